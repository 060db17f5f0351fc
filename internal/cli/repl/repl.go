package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"codexec/internal/cli/command"
	"codexec/internal/cli/state"
	"codexec/internal/sandbox/outcome"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

const (
	prompt     = "codexec> "
	codePrompt = "....... "
	codeEnd    = "."
)

// Executor is the part of the HTTP client the session drives.
type Executor interface {
	Execute(ctx context.Context, code string, params map[string]interface{}) (outcome.Response, error)
	Health(ctx context.Context) error
	BaseURL() string
	SetBaseURL(baseURL string)
	SetTimeout(timeout time.Duration)
}

// LineReader yields one input line per call.
type LineReader interface {
	Readline() (string, error)
}

// Session holds REPL state.
type Session struct {
	client     Executor
	tokenState *state.TokenState
	statePath  string
	prettyJSON bool
	rawJSON    bool
	params     command.Params
	out        io.Writer
}

var errExit = errors.New("exit")

func New(client Executor, tokenState *state.TokenState, statePath string, prettyJSON bool, out io.Writer) *Session {
	return &Session{
		client:     client,
		tokenState: tokenState,
		statePath:  statePath,
		prettyJSON: prettyJSON,
		params:     command.Params{},
		out:        out,
	}
}

// Run reads commands with line editing until exit or EOF.
func (s *Session) Run(ctx context.Context, historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdout:          s.out,
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer func() { _ = rl.Close() }()

	s.printLine("connected to %s, type help for commands", s.client.BaseURL())
	return s.Loop(ctx, rl)
}

// Loop processes lines from in until exit or EOF.
func (s *Session) Loop(ctx context.Context, in LineReader) error {
	for {
		line, err := in.Readline()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt) {
				s.printLine("bye")
				return nil
			}
			return fmt.Errorf("read input failed: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := s.Handle(ctx, line, in); err != nil {
			if errors.Is(err, errExit) {
				s.printLine("bye")
				return nil
			}
			s.printLine("error: %v", err)
		}
	}
}

// Handle runs one command line. in supplies follow-up lines for multi-line input.
func (s *Session) Handle(ctx context.Context, line string, in LineReader) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}
	args := tokens[1:]
	switch tokens[0] {
	case "exit", "quit":
		return errExit
	case "help":
		s.printHelp()
		return nil
	case "set":
		return s.handleSet(args)
	case "unset":
		return s.handleUnset(args)
	case "show":
		return s.handleShow(args)
	case "health":
		if err := s.client.Health(ctx); err != nil {
			return err
		}
		s.printLine("ok")
		return nil
	case "run":
		return s.handleRun(ctx, args)
	case "code":
		return s.handleCode(ctx, args, in)
	default:
		return fmt.Errorf("unknown command: %s", tokens[0])
	}
}

func (s *Session) handleSet(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: set base|timeout|token|raw <value> or set param key=value ...")
	}
	switch args[0] {
	case "base":
		s.client.SetBaseURL(args[1])
		s.printLine("base set to %s", args[1])
	case "timeout":
		dur, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	case "token":
		s.tokenState.AccessToken = args[1]
		s.tokenState.UpdatedAt = time.Now().UTC()
		if err := state.Save(s.statePath, *s.tokenState); err != nil {
			return fmt.Errorf("save token failed: %w", err)
		}
		s.printLine("token updated")
	case "raw":
		s.rawJSON = args[1] == "on" || args[1] == "true"
		s.printLine("raw output %t", s.rawJSON)
	case "param", "params":
		if err := s.params.ParseAssignments(args[1:]); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown set command: %s", args[0])
	}
	return nil
}

func (s *Session) handleUnset(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: unset params | unset param <key> ... | unset token")
	}
	switch args[0] {
	case "params":
		s.params = command.Params{}
	case "param":
		for _, key := range args[1:] {
			delete(s.params, key)
		}
	case "token":
		*s.tokenState = state.TokenState{}
		return state.Clear(s.statePath)
	default:
		return fmt.Errorf("unknown unset command: %s", args[0])
	}
	return nil
}

func (s *Session) handleShow(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: show token|config|params")
	}
	switch args[0] {
	case "token":
		s.printLine("token: %s", s.tokenState.Masked())
	case "config":
		s.printLine("base: %s", s.client.BaseURL())
		s.printLine("tokenStatePath: %s", s.statePath)
		s.printLine("raw: %t pretty: %t", s.rawJSON, s.prettyJSON)
	case "params":
		if len(s.params) == 0 {
			s.printLine("params: <none>")
			return nil
		}
		keys := make([]string, 0, len(s.params))
		for k := range s.params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			s.printLine("%s=%v", k, s.params[k])
		}
	default:
		return fmt.Errorf("usage: show token|config|params")
	}
	return nil
}

// handleRun executes a file with the session params overlaid by inline ones.
func (s *Session) handleRun(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: run FILE [key=value ...]")
	}
	code, err := command.ReadFile(args[0])
	if err != nil {
		return err
	}
	params := s.params.Clone()
	if err := params.ParseAssignments(args[1:]); err != nil {
		return err
	}
	return s.execute(ctx, code, params)
}

// handleCode reads a snippet line by line until a lone ".".
func (s *Session) handleCode(ctx context.Context, args []string, in LineReader) error {
	params := s.params.Clone()
	if err := params.ParseAssignments(args); err != nil {
		return err
	}
	if p, ok := in.(interface{ SetPrompt(string) }); ok {
		p.SetPrompt(codePrompt)
		defer p.SetPrompt(prompt)
	}
	s.printLine("enter code, finish with a line containing only %q", codeEnd)
	var b strings.Builder
	for {
		line, err := in.Readline()
		if err != nil {
			return fmt.Errorf("read code failed: %w", err)
		}
		if strings.TrimSpace(line) == codeEnd {
			break
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return s.execute(ctx, b.String(), params)
}

func (s *Session) execute(ctx context.Context, code string, params command.Params) error {
	start := time.Now()
	resp, err := s.client.Execute(ctx, code, params)
	if err != nil {
		return err
	}
	if err := command.Render(s.out, resp, s.rawJSON, s.prettyJSON); err != nil {
		return err
	}
	s.printLine("(%s)", time.Since(start).Round(time.Millisecond))
	return nil
}

func (s *Session) printHelp() {
	s.printLine("commands:")
	s.printLine("  run FILE [key=value ...]     execute a file")
	s.printLine("  code [key=value ...]         type a snippet, end with a line containing only .")
	s.printLine("  set param key=value ...      parameters sent with every run")
	s.printLine("  unset params | unset param key ... | unset token")
	s.printLine("  set base|timeout|token|raw <value>")
	s.printLine("  show token|config|params")
	s.printLine("  health | help | exit")
	s.printLine("example:")
	s.printLine("  run ./add.star x=10 y=20")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}
