package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"soschat/internal/config"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your soschat installation",
		Long: `Verifies that the configuration, audit database, server port and
upstream API settings are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "soschat doctor v%s\n", version)
			fmt.Fprintf(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			r := &doctorReport{out: out}
			r.run(config.ExpandPath(resolveConfigPath()))

			fmt.Fprintf(out, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Fprintf(out, "Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
			if r.failed > 0 {
				fmt.Fprintf(out, "\nPlease fix the failed checks before running soschat.\n")
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			if r.warned > 0 {
				fmt.Fprintf(out, "\nsoschat should work but consider fixing the warnings.\n")
			} else {
				fmt.Fprintf(out, "\nAll checks passed! soschat is ready to run.\n")
			}
			return nil
		},
	}
}

type doctorReport struct {
	out                    io.Writer
	passed, warned, failed int
}

func (r *doctorReport) pass(check, detail string) {
	fmt.Fprintf(r.out, "  [PASS] %-20s %s\n", check, detail)
	r.passed++
}

func (r *doctorReport) fail(check, detail string) {
	fmt.Fprintf(r.out, "  [FAIL] %-20s %s\n", check, detail)
	r.failed++
}

func (r *doctorReport) warn(check, detail string) {
	fmt.Fprintf(r.out, "  [WARN] %-20s %s\n", check, detail)
	r.warned++
}

func (r *doctorReport) run(cfgPath string) {
	// 1. Config file exists
	if _, err := os.Stat(cfgPath); err != nil {
		r.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
		fmt.Fprintf(r.out, "\nRun 'soschat init' to create a default configuration.\n")
		return
	}
	r.pass("Config file", cfgPath)

	// 2. Config loads and validates
	cfg, err := config.Load(cfgPath)
	if err != nil {
		r.fail("Config validation", err.Error())
		return
	}
	r.pass("Config validation", "valid")

	// 3. Audit database writable
	if cfg.Audit.Enabled {
		if err := checkDatabase(cfg.Audit.DBPath); err != nil {
			r.fail("Audit database", err.Error())
		} else {
			r.pass("Audit database", cfg.Audit.DBPath)
		}
	} else {
		r.warn("Audit database", "disabled (no dispatch history)")
	}

	// 4. Server port
	if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
		r.warn("Server port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
	} else {
		r.pass("Server port", fmt.Sprintf("%s:%d available", cfg.Server.Host, cfg.Server.Port))
	}

	// 5. Upstream APIs
	if cfg.Tools.News.APIKey == "" {
		r.warn("News API key", "NEWS_API_KEY not set (news and headlines will fail)")
	} else {
		r.pass("News API key", "configured")
	}
	switch {
	case cfg.Tools.Math.Endpoint == "" && !cfg.Tools.Math.LocalFallback:
		r.fail("Calculator", "no math endpoint and local fallback disabled")
	case cfg.Tools.Math.Endpoint == "":
		r.warn("Calculator", "no math endpoint (local arithmetic only)")
	default:
		r.pass("Calculator", cfg.Tools.Math.Endpoint)
	}
	if cfg.Server.APIKey == "" && cfg.Server.Host != "127.0.0.1" && cfg.Server.Host != "localhost" {
		r.warn("Server API key", fmt.Sprintf("not set while listening on %q", cfg.Server.Host))
	}

	// 6. Telegram
	if cfg.Telegram.Enabled {
		if len(cfg.Telegram.AllowFrom) == 0 {
			r.warn("Telegram", "enabled with an empty allow list (anyone can use the bot)")
		} else {
			r.pass("Telegram", fmt.Sprintf("%d allowed user(s)", len(cfg.Telegram.AllowFrom)))
		}
	}

	// 7. Log file writable
	if cfg.General.LogFile != "" {
		logPath := config.ExpandPath(cfg.General.LogFile)
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
		} else {
			r.pass("Log file", logPath)
		}
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
