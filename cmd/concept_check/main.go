package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/conceptgraph/internal/conceptdef"
)

func main() {
	var (
		format string
		out    string
	)
	flag.StringVar(&format, "format", "", "definition format: flatfile, json or yaml (default from the file extension)")
	flag.StringVar(&out, "out", "json", "print the parsed definitions as json or yaml")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Println("usage: concept_check [-format flatfile|json|yaml] [-out json|yaml] FILE")
		os.Exit(2)
	}
	path := flag.Arg(0)
	if format == "" {
		format = formatFromExt(path)
	}
	f, err := conceptdef.ParseFormat(format)
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(2)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("read %s: %v\n", path, err)
		os.Exit(1)
	}
	problems, err := conceptdef.Validate(strings.NewReader(string(raw)), f, true)
	if err != nil {
		fmt.Printf("validate: %v\n", err)
		os.Exit(1)
	}
	if len(problems) > 0 {
		for _, p := range problems {
			fmt.Println(p)
		}
		os.Exit(1)
	}

	c, err := conceptdef.Parse(strings.NewReader(string(raw)), f)
	if err != nil {
		fmt.Printf("parse: %v\n", err)
		os.Exit(1)
	}
	if err := write(os.Stdout, c, out); err != nil {
		fmt.Printf("write: %v\n", err)
		os.Exit(1)
	}
}

func formatFromExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "flatfile"
	}
}

func write(w io.Writer, c *conceptdef.Collection, out string) error {
	switch strings.ToLower(out) {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(c); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(c)
	default:
		return fmt.Errorf("unknown output %q", out)
	}
}
