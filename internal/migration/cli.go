package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
)

// CLI 把迁移操作包装为命令行子命令，结果写到 output
type CLI struct {
	migrator Migrator
	output   io.Writer
}

// NewCLI 创建 CLI，默认输出到 stdout
func NewCLI(migrator Migrator) *CLI {
	return &CLI{migrator: migrator, output: os.Stdout}
}

// SetOutput 替换输出（测试用）
func (c *CLI) SetOutput(w io.Writer) {
	c.output = w
}

// Usage 子命令说明
const Usage = `usage: kyronex migrate <command> [arg] [--config path] [--db-type type] [--db-name name]

commands:
  up             apply all pending migrations
  down           roll back the last migration
  down-all       roll back every migration (alias: reset)
  steps N        apply (N > 0) or roll back (N < 0) N migrations
  goto V         migrate to version V
  force V        set version V without running migrations
  version        print the current version
  status         list migrations and their state
  info           print a summary
`

// Run 分发一个子命令（args 不含 "migrate" 本身）
func (c *CLI) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(c.output, Usage)
		return fmt.Errorf("missing migrate command")
	}
	cmd := args[0]

	intArg := func() (int, error) {
		if len(args) < 2 {
			return 0, fmt.Errorf("%s requires a numeric argument", cmd)
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return 0, fmt.Errorf("invalid %s argument %q: %w", cmd, args[1], err)
		}
		return n, nil
	}

	switch cmd {
	case "up":
		return c.apply(ctx, "Applying pending migrations", c.migrator.Up)
	case "down":
		return c.apply(ctx, "Rolling back last migration", c.migrator.Down)
	case "down-all", "reset":
		return c.apply(ctx, "Rolling back every migration", c.migrator.DownAll)
	case "steps":
		n, err := intArg()
		if err != nil {
			return err
		}
		return c.apply(ctx, fmt.Sprintf("Moving %+d step(s)", n), func(ctx context.Context) error {
			return c.migrator.Steps(ctx, n)
		})
	case "goto":
		n, err := intArg()
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("goto version must be non-negative")
		}
		return c.apply(ctx, fmt.Sprintf("Migrating to version %d", n), func(ctx context.Context) error {
			return c.migrator.Goto(ctx, uint(n))
		})
	case "force":
		n, err := intArg()
		if err != nil {
			return err
		}
		return c.apply(ctx, fmt.Sprintf("Forcing version %d", n), func(ctx context.Context) error {
			return c.migrator.Force(ctx, n)
		})
	case "version":
		return c.RunVersion(ctx)
	case "status":
		return c.RunStatus(ctx)
	case "info":
		return c.RunInfo(ctx)
	default:
		fmt.Fprint(c.output, Usage)
		return fmt.Errorf("unknown migrate command: %s", cmd)
	}
}

// apply 执行一个改变版本的操作并打印结果版本
func (c *CLI) apply(ctx context.Context, what string, op func(context.Context) error) error {
	fmt.Fprintf(c.output, "%s...\n", what)
	if err := op(ctx); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return c.RunVersion(ctx)
}

// RunVersion 打印当前版本
func (c *CLI) RunVersion(ctx context.Context) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return fmt.Errorf("failed to get version: %w", err)
	}
	switch {
	case version == 0:
		fmt.Fprintln(c.output, "Schema version: none")
	case dirty:
		fmt.Fprintf(c.output, "Schema version: %d (dirty, fix with 'force')\n", version)
	default:
		fmt.Fprintf(c.output, "Schema version: %d\n", version)
	}
	return nil
}

// RunStatus 列出全部迁移及其状态
func (c *CLI) RunStatus(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.output, "No migrations found.")
		return nil
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATE")
	for _, s := range statuses {
		state := "pending"
		switch {
		case s.Dirty:
			state = "dirty"
		case s.Applied:
			state = "applied"
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, s.Name, state)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return c.RunInfo(ctx)
}

// RunInfo 打印汇总
func (c *CLI) RunInfo(ctx context.Context) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get info: %w", err)
	}
	fmt.Fprintf(c.output, "version=%d dirty=%v total=%d applied=%d pending=%d\n",
		info.CurrentVersion, info.Dirty, info.TotalMigrations, info.AppliedMigrations, info.PendingMigrations)
	return nil
}
