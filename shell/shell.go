// Package shell is a line oriented command interpreter over a store.
package shell

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cqkv/logkv"
)

const (
	prompt = "logkv> "
	// room for the command word and separators around key and value
	lineOverhead = 64
	initialBuf   = 64 << 10
)

// Store is the part of the engine the shell drives
type Store interface {
	Put(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	ListKeys() [][]byte
	Compact() error
	Stat() logkv.Stat
}

type Shell struct {
	store  Store
	in     *bufio.Scanner
	out    io.Writer
	prompt bool
}

type options struct {
	maxKeySize   int
	maxValueSize int
}

type Option func(*options)

// WithLimits sizes the longest accepted line for keys and values of up to
// the given sizes, use the limits the store was opened with
func WithLimits(maxKeySize, maxValueSize int) Option {
	return func(o *options) {
		o.maxKeySize = maxKeySize
		o.maxValueSize = maxValueSize
	}
}

// New builds a shell reading commands from in. The prompt is only printed
// when interactive is set.
func New(store Store, in io.Reader, out io.Writer, interactive bool, opts ...Option) *Shell {
	o := options{
		maxKeySize:   logkv.DefaultMaxKeySize,
		maxValueSize: logkv.DefaultMaxValueSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	scanner := bufio.NewScanner(in)
	maxLine := o.maxKeySize + o.maxValueSize + lineOverhead
	scanner.Buffer(make([]byte, 0, min(initialBuf, maxLine)), maxLine)

	return &Shell{
		store:  store,
		in:     scanner,
		out:    out,
		prompt: interactive,
	}
}

var errExit = errors.New("exit")

// Run executes commands until exit or the end of the input
func (s *Shell) Run() error {
	for {
		if s.prompt {
			fmt.Fprint(s.out, prompt)
		}
		if !s.in.Scan() {
			return s.in.Err()
		}

		line := strings.TrimSpace(s.in.Text())
		if line == "" {
			continue
		}
		err := s.exec(line)
		if errors.Is(err, errExit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
}

func (s *Shell) exec(line string) error {
	cmd, args, _ := strings.Cut(line, " ")
	args = strings.TrimSpace(args)

	switch strings.ToLower(cmd) {
	case "set":
		key, value, ok := strings.Cut(args, " ")
		if !ok || key == "" {
			return errors.New("usage: set <key> <value>")
		}
		if err := s.store.Put([]byte(key), []byte(strings.TrimSpace(value))); err != nil {
			return err
		}
		s.result("OK")
	case "get":
		if args == "" || strings.Contains(args, " ") {
			return errors.New("usage: get <key>")
		}
		value, err := s.store.Get([]byte(args))
		if err != nil {
			return err
		}
		s.result(string(value))
	case "del", "delete":
		if args == "" || strings.Contains(args, " ") {
			return errors.New("usage: del <key>")
		}
		if err := s.store.Delete([]byte(args)); err != nil {
			return err
		}
		s.result("OK")
	case "keys":
		keys := s.store.ListKeys()
		names := make([]string, 0, len(keys))
		for _, k := range keys {
			names = append(names, string(k))
		}
		s.result(strings.Join(names, " "))
	case "compact":
		if err := s.store.Compact(); err != nil {
			return err
		}
		s.result("OK")
	case "stat":
		st := s.store.Stat()
		s.result(fmt.Sprintf("keys=%d segments=%d disk=%d reclaimable=%d",
			st.KeyNum, st.SegmentNum, st.DiskSize, st.ReclaimableSize))
	case "help":
		s.usage()
	case "exit", "quit":
		return errExit
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
	return nil
}

func (s *Shell) result(r string) {
	fmt.Fprintf(s.out, "-> %s\n", r)
}

func (s *Shell) usage() {
	fmt.Fprintln(s.out, `Commands:
  set <key> <value>   store value under key
  get <key>           print the value of key
  del <key>           delete key
  keys                list keys in order
  compact             reclaim space held by stale records
  stat                print store statistics
  exit                leave the shell`)
}
