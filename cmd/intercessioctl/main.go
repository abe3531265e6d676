// Command intercessioctl is a thin CLI client over intercessiod's control
// socket, for scripting and operator use outside the dashboard.
//
// Grounded on the teacher's witnessctl-style client: dial the daemon's
// unix socket, send one request, print the response.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"intercessio/internal/config"
	"intercessio/internal/control"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 1
	}

	dir, err := config.Dir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "intercessioctl: %v\n", err)
		return 1
	}
	paths := config.ResolvePaths(dir)

	req, err := buildRequest(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "intercessioctl: %v\n", err)
		return 1
	}

	resp, err := send(paths.SocketFile, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "intercessioctl: %v\n", err)
		return 1
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "intercessioctl: %v\n", err)
		return 1
	}
	fmt.Println(string(out))

	if !resp.OK {
		return 1
	}
	return 0
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: intercessioctl <command> [args]

commands:
  ping
  list-sessions
  list-activity
  list-approvals
  resolve-approval <id> <approve|reject>
  stop-session <sessionId>
  delete-session <sessionId>
  rename-session <sessionId> <alias>
  update-session-template <sessionId> <template>
  shutdown`)
}

func buildRequest(args []string) (control.Request, error) {
	cmd := args[0]
	rest := args[1:]

	switch cmd {
	case "ping":
		return control.Request{Tag: control.TagPing}, nil
	case "list-sessions":
		return control.Request{Tag: control.TagListSessions}, nil
	case "list-activity":
		return control.Request{Tag: control.TagListActivity}, nil
	case "list-approvals":
		return control.Request{Tag: control.TagListApprovals}, nil
	case "shutdown":
		return control.Request{Tag: control.TagShutdown}, nil
	case "resolve-approval":
		if len(rest) != 2 {
			return control.Request{}, fmt.Errorf("usage: resolve-approval <id> <approve|reject>")
		}
		return jsonRequest(control.TagResolveApproval, control.ResolveApprovalPayload{ID: rest[0], Decision: rest[1]})
	case "stop-session":
		if len(rest) != 1 {
			return control.Request{}, fmt.Errorf("usage: stop-session <sessionId>")
		}
		return jsonRequest(control.TagStopSession, control.SessionIDPayload{SessionID: rest[0]})
	case "delete-session":
		if len(rest) != 1 {
			return control.Request{}, fmt.Errorf("usage: delete-session <sessionId>")
		}
		return jsonRequest(control.TagDeleteSession, control.SessionIDPayload{SessionID: rest[0]})
	case "rename-session":
		if len(rest) != 2 {
			return control.Request{}, fmt.Errorf("usage: rename-session <sessionId> <alias>")
		}
		return jsonRequest(control.TagRenameSession, control.RenameSessionPayload{SessionID: rest[0], Alias: rest[1]})
	case "update-session-template":
		if len(rest) != 2 {
			return control.Request{}, fmt.Errorf("usage: update-session-template <sessionId> <template>")
		}
		return jsonRequest(control.TagUpdateSessionTemplate, control.UpdateTemplatePayload{SessionID: rest[0], Template: rest[1]})
	default:
		return control.Request{}, fmt.Errorf("unknown command %q", cmd)
	}
}

func jsonRequest(tag string, payload interface{}) (control.Request, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return control.Request{}, err
	}
	return control.Request{Tag: tag, Payload: data}, nil
}

func send(socketPath string, req control.Request) (control.Response, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return control.Response{}, fmt.Errorf("connect to daemon: %w", err)
	}
	defer conn.Close()

	data, err := json.Marshal(req)
	if err != nil {
		return control.Response{}, err
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return control.Response{}, fmt.Errorf("send request: %w", err)
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return control.Response{}, fmt.Errorf("read response: %w", err)
	}

	var resp control.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return control.Response{}, fmt.Errorf("parse response: %w", err)
	}
	return resp, nil
}
