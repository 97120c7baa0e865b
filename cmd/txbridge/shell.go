package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/xiaoxuxiansheng/txbridge"
	"github.com/xiaoxuxiansheng/txbridge/config"
)

func newShellCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive shell driving one transaction at a time",
		Args:  cobra.NoArgs,
		RunE:  runShellCommandFunc,
	}
}

func runShellCommandFunc(cmd *cobra.Command, args []string) error {
	conf, err := config.Load(configFile)
	if err != nil {
		return err
	}

	b, err := newBridge(conf)
	if err != nil {
		return err
	}
	defer b.close()
	b.serveMetrics(metricsAddr)

	sh := newShell(globalContext, b, os.Stdout)
	defer sh.reset()
	return sh.loop()
}

type shellCommand struct {
	usage string
	short string
	// 参数个数下限与上限
	minArgs, maxArgs int
	run              func(s *shell, args []string) error
}

var shellCommands map[string]shellCommand

func init() {
	shellCommands = map[string]shellCommand{
		"begin":  {usage: "begin [tree]", short: "Open a transaction on tree, default tree if omitted", maxArgs: 1, run: (*shell).begin},
		"insert": {usage: "insert key value", short: "Insert key within the transaction", minArgs: 2, maxArgs: 2, run: (*shell).insert},
		"get":    {usage: "get key", short: "Read key within the transaction", minArgs: 1, maxArgs: 1, run: (*shell).get},
		"remove": {usage: "remove key", short: "Remove key within the transaction", minArgs: 1, maxArgs: 1, run: (*shell).remove},
		"flush":  {usage: "flush", short: "Sync to disk once the transaction commits", run: (*shell).flush},
		"commit": {usage: "commit", short: "Close and commit the transaction", run: (*shell).commit},
		"abort":  {usage: "abort", short: "Abort the transaction", run: (*shell).abort},
		"read":   {usage: "read key [tree]", short: "Read committed state outside any transaction", minArgs: 1, maxArgs: 2, run: (*shell).read},
		"trees":  {usage: "trees", short: "List named trees", run: (*shell).trees},
		"status": {usage: "status", short: "Show the current transaction", run: (*shell).status},
		"help":   {usage: "help", short: "Show this help", run: (*shell).help},
	}
}

type shell struct {
	ctx context.Context
	b   *bridge
	out io.Writer
	tx  *txbridge.Transaction
}

func newShell(ctx context.Context, b *bridge, out io.Writer) *shell {
	return &shell{
		ctx: ctx,
		b:   b,
		out: out,
	}
}

func (s *shell) loop() error {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            "\033[31m»\033[0m ",
		HistoryFile:       filepath.Join(os.TempDir(), "txbridge.history"),
		InterruptPrompt:   "^C",
		EOFPrompt:         "^D",
		HistorySearchFold: true,
	})
	if err != nil {
		return err
	}
	defer l.Close()

	for {
		line, err := l.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			continue
		}
		if s.exec(line) {
			return nil
		}
	}
}

// exec 执行一行输入，返回 true 表示退出
func (s *shell) exec(line string) bool {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false
	}

	name, args := strings.ToLower(args[0]), args[1:]
	if name == "quit" || name == "exit" {
		return true
	}

	cmd, ok := shellCommands[name]
	if !ok {
		fmt.Fprintf(s.out, "unknown command %q, type help\n", name)
		return false
	}
	if len(args) < cmd.minArgs || len(args) > cmd.maxArgs {
		fmt.Fprintf(s.out, "usage: %s\n", cmd.usage)
		return false
	}
	if err := cmd.run(s, args); err != nil {
		fmt.Fprintf(s.out, "%s failed: %v\n", name, err)
	}
	return false
}

func (s *shell) current() (*txbridge.Transaction, error) {
	if s.tx == nil {
		return nil, errors.New("no transaction, type begin")
	}
	return s.tx, nil
}

// reset 丢弃当前事务，未提交的写入全部回滚
func (s *shell) reset() {
	if s.tx != nil {
		s.tx.Drop()
		s.tx = nil
	}
}

func (s *shell) begin(args []string) error {
	if s.tx != nil {
		return fmt.Errorf("transaction %s still open, commit or abort it first", s.tx.ID())
	}
	var tree string
	if len(args) == 1 {
		tree = args[0]
	}

	tx, err := s.b.coordinator.Open(s.ctx, tree)
	if err != nil {
		return err
	}
	s.tx = tx
	fmt.Fprintf(s.out, "begin %s on tree %q\n", tx.ID(), tx.Tree())
	return nil
}

func (s *shell) insert(args []string) error {
	tx, err := s.current()
	if err != nil {
		return err
	}
	prev, found, err := tx.Insert(s.ctx, []byte(args[0]), []byte(args[1]))
	if err != nil {
		return s.failed(err)
	}
	fmt.Fprintf(s.out, "insert %s ok, previous: %s\n", args[0], show(prev, found))
	return nil
}

func (s *shell) get(args []string) error {
	tx, err := s.current()
	if err != nil {
		return err
	}
	value, found, err := tx.Get(s.ctx, []byte(args[0]))
	if err != nil {
		return s.failed(err)
	}
	fmt.Fprintf(s.out, "%s=%s\n", args[0], show(value, found))
	return nil
}

func (s *shell) remove(args []string) error {
	tx, err := s.current()
	if err != nil {
		return err
	}
	prev, found, err := tx.Remove(s.ctx, []byte(args[0]))
	if err != nil {
		return s.failed(err)
	}
	fmt.Fprintf(s.out, "remove %s ok, previous: %s\n", args[0], show(prev, found))
	return nil
}

func (s *shell) flush(args []string) error {
	tx, err := s.current()
	if err != nil {
		return err
	}
	if err = tx.Flush(s.ctx); err != nil {
		return s.failed(err)
	}
	fmt.Fprintln(s.out, "flush ok")
	return nil
}

func (s *shell) commit(args []string) error {
	tx, err := s.current()
	if err != nil {
		return err
	}
	outcome, err := tx.Commit(s.ctx)
	if errors.Is(err, txbridge.ErrRestarted) {
		// 事务仍然存活，等待重新输入命令
		fmt.Fprintln(s.out, "write conflict, the transaction restarted and previous commands were discarded, replay them and commit again")
		return nil
	}
	s.tx = nil
	if err != nil && outcome.Status == "" {
		return err
	}
	fmt.Fprintf(s.out, "%s\n", outcome)
	return nil
}

func (s *shell) abort(args []string) error {
	tx, err := s.current()
	if err != nil {
		return err
	}
	outcome, err := tx.Rollback(s.ctx)
	s.tx = nil
	if err != nil && outcome.Status == "" {
		return err
	}
	fmt.Fprintf(s.out, "%s\n", outcome)
	return nil
}

// failed 命令失败时事务可能已经结束，此时清理当前事务
func (s *shell) failed(err error) error {
	select {
	case <-s.tx.Done():
		outcome, _ := s.tx.Wait(s.ctx)
		s.tx = nil
		return fmt.Errorf("%w, transaction finished: %s", err, outcome)
	default:
		return err
	}
}

func (s *shell) read(args []string) error {
	var name string
	if len(args) == 2 {
		name = args[1]
	} else if s.tx != nil {
		name = s.tx.Tree()
	}

	tree, err := s.b.db.OpenTree(name)
	if err != nil {
		return err
	}
	value, found, err := tree.Get([]byte(args[0]))
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s=%s\n", args[0], show(value, found))
	return nil
}

func (s *shell) trees(args []string) error {
	names, err := s.b.db.TreeNames()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintln(s.out, "0 trees")
		return nil
	}
	for _, name := range names {
		fmt.Fprintln(s.out, name)
	}
	return nil
}

func (s *shell) status(args []string) error {
	fmt.Fprintf(s.out, "in flight: %d\n", s.b.coordinator.InFlight())
	if s.tx == nil {
		fmt.Fprintln(s.out, "no transaction")
		return nil
	}
	info, ok := s.b.coordinator.Lookup(s.tx.ID())
	if !ok {
		return errors.New("transaction already finished")
	}
	fmt.Fprintf(s.out, "tx %s on tree %q, attempts: %d, open for %s\n", info.TXID, info.Tree, info.Attempts, time.Since(info.CreatedAt).Round(time.Millisecond))
	return nil
}

func (s *shell) help(args []string) error {
	names := make([]string, 0, len(shellCommands))
	for name := range shellCommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cmd := shellCommands[name]
		fmt.Fprintf(s.out, "  %-18s %s\n", cmd.usage, cmd.short)
	}
	fmt.Fprintf(s.out, "  %-18s %s\n", "quit", "Drop the transaction and exit")
	return nil
}

func show(value []byte, found bool) string {
	if !found {
		return "<none>"
	}
	return fmt.Sprintf("%q", value)
}
