/*
Copyright (C) 2025-2026  MemCP Contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Command segctl is an interactive admin shell over a running
// segstored's RPC surface, generalized from the teacher's scm/prompt.go
// REPL (github.com/chzyer/readline, a persistent history file, the
// same new/result prompt split) to issue one-line commands against
// CreateTable/GetSchema/ListTables/ListSegments instead of evaluating
// scheme expressions.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/chzyer/readline"
)

const (
	newPrompt    = "\033[32msegctl>\033[0m "
	resultPrefix = "\033[31m=\033[0m "
)

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8089", "segstored RPC base URL")
	flag.Parse()

	l, err := readline.NewEx(&readline.Config{
		Prompt:            newPrompt,
		HistoryFile:       ".segctl-history.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	client := &client{base: strings.TrimRight(*addr, "/"), http: &http.Client{}}

	fmt.Println("segctl: connected to", client.base)
	fmt.Println(`commands: tables | schema <table> | create <table> <schema.json> | drop <table> |
  segments <table> [partition] | write <table> <partition.json> <rows.json> |
  delete <table> <segment-id> <row-ids.json> [partition]`)

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			break
		} else if err != nil {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		out, err := client.run(line)
		if err != nil {
			fmt.Println(resultPrefix+"error:", err)
			continue
		}
		fmt.Println(resultPrefix + out)
	}
}

type client struct {
	base string
	http *http.Client
}

func (c *client) run(line string) (string, error) {
	fields := splitN(line, 2)
	cmd := fields[0]
	rest := ""
	if len(fields) > 1 {
		rest = fields[1]
	}
	switch cmd {
	case "tables":
		return c.get("/tables")
	case "schema":
		return c.get("/tables/" + rest)
	case "drop":
		return c.do(http.MethodDelete, "/tables/"+rest, nil)
	case "create":
		args := splitN(rest, 2)
		if len(args) != 2 {
			return "", fmt.Errorf("usage: create <table> <schema.json>")
		}
		body := fmt.Sprintf(`{"name":%q,"schema":%s}`, args[0], args[1])
		return c.do(http.MethodPost, "/tables", strings.NewReader(body))
	case "segments":
		args := strings.Fields(rest)
		if len(args) == 0 {
			return "", fmt.Errorf("usage: segments <table> [partition]")
		}
		path := "/tables/" + args[0] + "/segments"
		if len(args) > 1 {
			path += "?partition=" + args[1]
		}
		return c.get(path)
	case "write":
		args := splitN(rest, 3)
		if len(args) != 3 {
			return "", fmt.Errorf("usage: write <table> <partition.json> <rows.json>")
		}
		body := fmt.Sprintf(`{"partition":%s,"rows":%s}`, args[1], args[2])
		return c.do(http.MethodPost, "/tables/"+args[0]+"/write", strings.NewReader(body))
	case "delete":
		args := splitN(rest, 3)
		if len(args) < 3 {
			return "", fmt.Errorf("usage: delete <table> <segment-id> <row-ids.json> [partition]")
		}
		path := "/tables/" + args[0] + "/segments/" + args[1] + "/delete"
		ids := args[2]
		if i := strings.LastIndex(ids, " "); i >= 0 && !strings.HasSuffix(ids, "]") {
			path += "?partition=" + ids[i+1:]
			ids = ids[:i]
		}
		body := fmt.Sprintf(`{"row_ids":%s}`, ids)
		return c.do(http.MethodPost, path, strings.NewReader(body))
	default:
		return "", fmt.Errorf("unknown command %q", cmd)
	}
}

func splitN(s string, n int) []string {
	return strings.SplitN(s, " ", n)
}

func (c *client) get(path string) (string, error) {
	return c.do(http.MethodGet, path, nil)
}

func (c *client) do(method, path string, body io.Reader) (string, error) {
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return "", err
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, buf.Bytes(), "", "  ") == nil {
		return pretty.String(), nil
	}
	return buf.String(), nil
}
