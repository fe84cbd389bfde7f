package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/stickywall/internal/client"
	"github.com/nkiryanov/stickywall/internal/logger"
)

const dateLayout = "2006-01-02"

var errUsage = errors.New("wrong arguments")

type apiClient interface {
	Signup(ctx context.Context, email string, password string) error
	Login(ctx context.Context, email string, password string) error
	Logout(ctx context.Context) error
	Profile(ctx context.Context) (client.Profile, error)
	ListTodos(ctx context.Context) ([]client.Todo, error)
	CreateTodo(ctx context.Context, todo client.NewTodo) (client.Todo, error)
	GetTodo(ctx context.Context, id uuid.UUID) (client.Todo, error)
	UpdateTodo(ctx context.Context, id uuid.UUID, update client.TodoUpdate) (client.Todo, error)
	DeleteTodo(ctx context.Context, id uuid.UUID) error
	Stats(ctx context.Context) (client.TodoStats, error)
}

type command struct {
	usage string
	exec  func(ctx context.Context, args []string) error
}

// Interactive shell over stickywall API
type app struct {
	client       apiClient
	in           *bufio.Scanner
	out          io.Writer
	readPassword func() (string, error)

	// Changed by session expiration hook from refresh goroutine
	loggedIn atomic.Bool
	email    string

	// Ids of last listed todos, todos may be referenced by list position
	listed []uuid.UUID

	commands map[string]command
}

func newApp(c *Config, in *bufio.Scanner, out io.Writer, readPassword func() (string, error)) (*app, error) {
	log, err := logger.New(logger.EnvDevelopment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	a := &app{in: in, out: out, readPassword: readPassword}

	a.client, err = client.New(client.Config{
		BaseURL:        c.URL,
		Cooldown:       c.RefreshCooldown,
		RefreshTimeout: c.RefreshTimeout,

		// Nothing to refresh before login
		InUnauthenticatedContext: func() bool { return !a.loggedIn.Load() },
		OnSessionExpired:         func(error) { a.loggedIn.Store(false) },

		Logger: log,
	})
	if err != nil {
		return nil, err
	}

	a.registerCommands()
	return a, nil
}

func (a *app) registerCommands() {
	a.commands = map[string]command{
		"signup": {"signup <email>", a.signup},
		"login":  {"login <email>", a.login},
		"logout": {"logout", a.logout},
		"whoami": {"whoami", a.whoami},
		"list":   {"list", a.list},
		"add":    {"add <title>", a.add},
		"show":   {"show <n|id>", a.show},
		"done":   {"done <n|id>", a.setCompleted(true)},
		"undo":   {"undo <n|id>", a.setCompleted(false)},
		"rename": {"rename <n|id> <title>", a.rename},
		"due":    {"due <n|id> <YYYY-MM-DD>", a.due},
		"color":  {"color <n|id> <color>", a.color},
		"tag":    {"tag <n|id> <category>", a.category},
		"rm":     {"rm <n|id>", a.remove},
		"stats":  {"stats", a.stats},
	}
}

// Read commands until EOF, 'exit' or context cancellation
func (a *app) run(ctx context.Context) {
	for ctx.Err() == nil {
		fmt.Fprintf(a.out, "stickywall (%s)> ", a.status())
		if !a.in.Scan() {
			fmt.Fprintln(a.out)
			return
		}

		parts := strings.Fields(a.in.Text())
		if len(parts) == 0 {
			continue
		}
		name, args := parts[0], parts[1:]

		switch name {
		case "exit", "quit":
			fmt.Fprintln(a.out, "Bye!")
			return
		case "help":
			a.help()
			continue
		}

		cmd, ok := a.commands[name]
		if !ok {
			fmt.Fprintf(a.out, "Unknown command: %s, type 'help' to list commands\n", name)
			continue
		}

		if err := cmd.exec(ctx, args); err != nil {
			a.printError(cmd, err)
		}
	}
}

func (a *app) status() string {
	if a.loggedIn.Load() {
		return a.email
	}
	return "guest"
}

func (a *app) help() {
	fmt.Fprintln(a.out, "Commands:")
	for _, name := range []string{"signup", "login", "logout", "whoami", "list", "add", "show", "done", "undo", "rename", "due", "color", "tag", "rm", "stats"} {
		fmt.Fprintf(a.out, "  %s\n", a.commands[name].usage)
	}
	fmt.Fprintln(a.out, "  exit")
}

func (a *app) printError(cmd command, err error) {
	var apiErr *client.APIError

	switch {
	case errors.Is(err, errUsage):
		fmt.Fprintf(a.out, "Usage: %s\n", cmd.usage)
	case errors.Is(err, client.ErrSessionExpired):
		fmt.Fprintln(a.out, "Session expired, please login again")
	case errors.As(err, &apiErr):
		fmt.Fprintf(a.out, "Error: %s\n", apiErr.Message)
		for field, msg := range apiErr.Fields {
			fmt.Fprintf(a.out, "  %s: %s\n", field, msg)
		}
	default:
		fmt.Fprintf(a.out, "Error: %v\n", err)
	}
}

func (a *app) password() (string, error) {
	fmt.Fprint(a.out, "Password: ")

	if a.readPassword != nil {
		pw, err := a.readPassword()
		fmt.Fprintln(a.out)
		return pw, err
	}

	if !a.in.Scan() {
		return "", io.ErrUnexpectedEOF
	}
	return a.in.Text(), nil
}

func (a *app) signup(ctx context.Context, args []string) error {
	return a.authenticate(ctx, args, a.client.Signup)
}

func (a *app) login(ctx context.Context, args []string) error {
	return a.authenticate(ctx, args, a.client.Login)
}

func (a *app) authenticate(ctx context.Context, args []string, fn func(context.Context, string, string) error) error {
	if len(args) != 1 {
		return errUsage
	}

	pw, err := a.password()
	if err != nil {
		return err
	}

	if err := fn(ctx, args[0], pw); err != nil {
		return err
	}

	a.email = args[0]
	a.listed = nil
	a.loggedIn.Store(true)
	fmt.Fprintf(a.out, "Logged in as %s\n", a.email)
	return nil
}

func (a *app) logout(ctx context.Context, _ []string) error {
	err := a.client.Logout(ctx)
	a.loggedIn.Store(false)
	a.listed = nil
	if err != nil {
		return err
	}

	fmt.Fprintln(a.out, "Logged out")
	return nil
}

func (a *app) whoami(ctx context.Context, _ []string) error {
	p, err := a.client.Profile(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "%s (id %s, since %s)\n", p.Email, p.ID, p.CreatedAt.Local().Format(dateLayout))
	return nil
}

func (a *app) list(ctx context.Context, _ []string) error {
	todos, err := a.client.ListTodos(ctx)
	if err != nil {
		return err
	}

	a.listed = make([]uuid.UUID, len(todos))
	for i, t := range todos {
		a.listed[i] = t.ID
	}

	if len(todos) == 0 {
		fmt.Fprintln(a.out, "No todos yet")
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	for i, t := range todos {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i+1, mark(t), t.Title, due(t), t.Category)
	}
	return tw.Flush()
}

func (a *app) add(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}

	t, err := a.client.CreateTodo(ctx, client.NewTodo{Title: strings.Join(args, " ")})
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Created %s\n", t.ID)
	return nil
}

func (a *app) show(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	id, err := a.resolveID(args[0])
	if err != nil {
		return err
	}

	t, err := a.client.GetTodo(ctx, id)
	if err != nil {
		return err
	}

	a.printTodo(t)
	return nil
}

func (a *app) setCompleted(completed bool) func(context.Context, []string) error {
	return func(ctx context.Context, args []string) error {
		if len(args) != 1 {
			return errUsage
		}
		return a.update(ctx, args[0], client.TodoUpdate{Completed: &completed})
	}
}

func (a *app) rename(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	title := strings.Join(args[1:], " ")
	return a.update(ctx, args[0], client.TodoUpdate{Title: &title})
}

func (a *app) due(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	dueAt, err := time.ParseInLocation(dateLayout, args[1], time.Local)
	if err != nil {
		return errUsage
	}
	return a.update(ctx, args[0], client.TodoUpdate{DueAt: &dueAt})
}

func (a *app) color(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	return a.update(ctx, args[0], client.TodoUpdate{Color: &args[1]})
}

func (a *app) category(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	category := strings.Join(args[1:], " ")
	return a.update(ctx, args[0], client.TodoUpdate{Category: &category})
}

func (a *app) update(ctx context.Context, ref string, update client.TodoUpdate) error {
	id, err := a.resolveID(ref)
	if err != nil {
		return err
	}

	t, err := a.client.UpdateTodo(ctx, id, update)
	if err != nil {
		return err
	}

	a.printTodo(t)
	return nil
}

func (a *app) remove(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	id, err := a.resolveID(args[0])
	if err != nil {
		return err
	}

	if err := a.client.DeleteTodo(ctx, id); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Deleted %s\n", id)
	return nil
}

func (a *app) stats(ctx context.Context, _ []string) error {
	s, err := a.client.Stats(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Total: %d, completed: %d, due today: %d, upcoming: %d\n", s.Total, s.Completed, s.Today, s.Upcoming)
	return nil
}

// Todo referenced either by position in last list or by id
func (a *app) resolveID(ref string) (uuid.UUID, error) {
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(a.listed) {
			return uuid.Nil, fmt.Errorf("no todo #%d in last list", n)
		}
		return a.listed[n-1], nil
	}

	id, err := uuid.Parse(ref)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid todo reference %q", ref)
	}
	return id, nil
}

func (a *app) printTodo(t client.Todo) {
	fmt.Fprintf(a.out, "%s %s\n", mark(t), t.Title)
	fmt.Fprintf(a.out, "  id:       %s\n", t.ID)
	if t.Description != "" {
		fmt.Fprintf(a.out, "  about:    %s\n", t.Description)
	}
	if t.Category != "" {
		fmt.Fprintf(a.out, "  category: %s\n", t.Category)
	}
	if t.Color != "" {
		fmt.Fprintf(a.out, "  color:    %s\n", t.Color)
	}
	if t.DueAt != nil {
		fmt.Fprintf(a.out, "  due:      %s\n", due(t))
	}
}

func mark(t client.Todo) string {
	if t.Completed {
		return "[x]"
	}
	return "[ ]"
}

func due(t client.Todo) string {
	if t.DueAt == nil {
		return "-"
	}
	return t.DueAt.Local().Format(dateLayout)
}
