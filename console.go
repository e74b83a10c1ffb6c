package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"git.unix.lgbt/diamondburned/mcmon/mcmon"
	"github.com/pkg/errors"
)

const consoleHelp = `Commands:
  run                   start the server
  stop                  stop the server
  restart               restart the server
  say <message>         broadcast a message
  kick <user> [reason]  kick a user
  status                show the server status
  users                 list online users
  prop <key>            show a server property
  /<command>            send a raw command to the server
`

// server is what the console controls.
type server interface {
	Run()
	Kill()
	Restart()
	SendCommand(command string)
	SendSay(message string, flags ...string)
	SendKick(user string, reason ...string)
	Status() mcmon.Status
	OnlineUsers() []mcmon.OnlineUser
	ServerProperty(key string) (string, bool)
}

// console reads commands line by line, usually from the terminal mcmon runs
// in.
type console struct {
	server server
	out    io.Writer
}

func newConsole(server server, out io.Writer) *console {
	return &console{
		server: server,
		out:    out,
	}
}

// run executes commands read from r until r is drained or ctx is canceled.
func (c *console) run(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		c.exec(scanner.Text())
	}

	return errors.Wrap(scanner.Err(), "failed to read console")
}

func (c *console) exec(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	if strings.HasPrefix(line, "/") {
		c.server.SendCommand(strings.TrimPrefix(line, "/"))
		return
	}

	name, args := cutWord(line)

	switch name {
	case "run":
		c.server.Run()
	case "stop":
		c.server.Kill()
	case "restart":
		c.server.Restart()

	case "say":
		if args == "" {
			c.printf("usage: say <message>\n")
			return
		}
		c.server.SendSay(args)

	case "kick":
		user, reason := cutWord(args)
		if user == "" {
			c.printf("usage: kick <user> [reason]\n")
			return
		}
		c.server.SendKick(user, reason)

	case "status":
		c.printStatus()
	case "users":
		c.printUsers()

	case "prop":
		if args == "" {
			c.printf("usage: prop <key>\n")
			return
		}
		if v, ok := c.server.ServerProperty(args); ok {
			c.printf("%s=%s\n", args, v)
		} else {
			c.printf("%s is not set\n", args)
		}

	case "help":
		c.printf(consoleHelp)
	default:
		c.printf("unknown command %q, try help\n", name)
	}
}

func (c *console) printStatus() {
	c.printf("status: %s\n", c.server.Status())

	for _, key := range []string{"motd", "difficulty"} {
		if v, ok := c.server.ServerProperty(key); ok {
			c.printf("%s: %s\n", key, v)
		}
	}

	c.printf("users: %d online\n", len(c.server.OnlineUsers()))
}

func (c *console) printUsers() {
	users := c.server.OnlineUsers()
	if len(users) == 0 {
		c.printf("no users online\n")
		return
	}

	for _, u := range users {
		c.printf("%s %s:%s at (%d, %d, %d) since %s\n",
			u.User, u.IP, u.Port,
			u.Coord.X, u.Coord.Y, u.Coord.Z,
			u.LoginTime.Format("15:04:05"))
	}
}

func (c *console) printf(f string, v ...interface{}) {
	fmt.Fprintf(c.out, f, v...)
}

func cutWord(s string) (word, rest string) {
	word, rest, _ = strings.Cut(strings.TrimSpace(s), " ")
	return word, strings.TrimSpace(rest)
}
