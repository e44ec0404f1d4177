package console

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/uloader/pkg/cli/sh"
	"github.com/robotalks/uloader/pkg/hostaddr"
	"github.com/robotalks/uloader/pkg/transfer"
)

func run(c *ishell.Context, fn func(s *sh.Shell, conn *sh.Conn) error) {
	s := sh.ShellFrom(c)
	if err := s.Abortable(func(conn *sh.Conn) error { return fn(s, conn) }); err != nil {
		c.Err(err)
	}
}

var (
	// SyncCmd interrupts autoboot and waits for the prompt.
	SyncCmd = ishell.Cmd{
		Name:    "sync",
		Aliases: []string{"s"},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			run(c, func(s *sh.Shell, conn *sh.Conn) error {
				return conn.Channel.WaitForPrompt()
			})
		}),
	}

	// EnvCmd runs DHCP on the board and sets serverip.
	EnvCmd = ishell.Cmd{
		Name:    "env",
		Aliases: []string{"e"},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			run(c, func(s *sh.Shell, conn *sh.Conn) error {
				res, err := conn.Channel.SetupEnv(hostaddr.NewResolver())
				if err == nil {
					c.Printf("target %s, server %s\n", res.TargetIP, res.ServerIP)
				}
				return err
			})
		}),
	}

	// PrintEnvCmd checks variables are set on the board.
	PrintEnvCmd = ishell.Cmd{
		Name:    "printenv",
		Aliases: []string{"pe"},
		Help:    "NAME...",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			names := c.Args
			if len(names) == 0 {
				names = []string{"ethaddr", "ipaddr", "serverip"}
			}
			run(c, func(s *sh.Shell, conn *sh.Conn) error {
				return conn.Channel.CheckEnv(names...)
			})
		}),
	}

	// LoadCmd serves a file over TFTP to the board.
	LoadCmd = ishell.Cmd{
		Name:    "load",
		Aliases: []string{"tftp"},
		Help:    "FILE LOADADDR",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) != 2 {
				c.Err(fmt.Errorf("FILE and LOADADDR required"))
				return
			}
			file, loadAddr := c.Args[0], c.Args[1]
			run(c, func(s *sh.Shell, conn *sh.Conn) error {
				srv := transfer.NewServer(filepath.Dir(file))
				srv.Timeout, srv.Retries = s.Config.TFTPTimeout, s.Config.TFTPRetries
				o := &transfer.Orchestrator{Service: srv, Addr: fmt.Sprintf(":%d", s.Config.TFTPPort)}
				return o.Load(context.Background(), conn.Channel, loadAddr, filepath.Base(file))
			})
		}),
	}

	// GoCmd starts the loaded image.
	GoCmd = ishell.Cmd{
		Name:    "go",
		Aliases: []string{"g"},
		Help:    "ADDR",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Err(fmt.Errorf("ADDR required"))
				return
			}
			run(c, func(s *sh.Shell, conn *sh.Conn) error {
				return conn.Channel.IssueGo(c.Args[0])
			})
		}),
	}

	// WaitIPCmd waits for the application to advertise its address.
	WaitIPCmd = ishell.Cmd{
		Name:    "waitip",
		Aliases: []string{"ip"},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			run(c, func(s *sh.Shell, conn *sh.Conn) error {
				_, err := conn.Channel.WaitForIP()
				return err
			})
		}),
	}

	// PromptCmd shows or sets the expected prompt.
	PromptCmd = ishell.Cmd{
		Name:    "prompt",
		Aliases: []string{"p"},
		Help:    "[TEXT]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			conn := sh.ShellFrom(c).Conn()
			if conn == nil {
				c.Err(fmt.Errorf("no serial port open"))
				return
			}
			ch := conn.Channel
			if len(c.Args) > 0 {
				ch.SetPrompt(strings.Join(c.Args, " "))
			}
			c.Printf("%q learned=%v state=%s\n", ch.Prompt(), ch.PromptLearned(), ch.State())
		}),
	}

	// RawCmd sends a console command and prints the reply.
	RawCmd = ishell.Cmd{
		Name:    "raw",
		Aliases: []string{"r"},
		Help:    "COMMAND...",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) == 0 {
				c.Err(fmt.Errorf("COMMAND required"))
				return
			}
			run(c, func(s *sh.Shell, conn *sh.Conn) error {
				ch := conn.Channel
				if err := ch.Command(strings.Join(c.Args, " ")); err != nil {
					return err
				}
				for quiet := 0; quiet < 3; {
					line, err := ch.ReadLine()
					if err != nil {
						return err
					}
					if line == "" {
						quiet++
						continue
					}
					quiet = 0
					c.Print(line)
				}
				c.Println()
				return nil
			})
		}),
	}
)

func init() {
	sh.AddCmds(
		&SyncCmd,
		&EnvCmd,
		&PrintEnvCmd,
		&LoadCmd,
		&GoCmd,
		&WaitIPCmd,
		&PromptCmd,
		&RawCmd,
	)
}
