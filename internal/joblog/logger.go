package joblog

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Logger is what job code writes its output to. Session persists the output to the run record,
// ConsoleLogger only prints it.
type Logger interface {
	Log(text string)
	Error(text string)
	PushContext(name string)
	PopContext()
}

// InContext runs fn with name pushed onto the logger's context stack. The context is popped on
// every way out of fn, including a panic.
func InContext(l Logger, name string, fn func() error) error {
	l.PushContext(name)
	defer l.PopContext()
	return fn()
}

// contextStack is the stack of labels prefixed to every line
type contextStack []string

func (c *contextStack) push(name string) {
	*c = append(*c, name)
}

func (c *contextStack) pop() {
	if n := len(*c); n > 0 {
		*c = (*c)[:n-1]
	}
}

// prefix renders the stack as "a:b: ". Adjacent duplicate labels are rendered once.
func (c contextStack) prefix() string {
	var labels []string
	for _, label := range c {
		if len(labels) == 0 || labels[len(labels)-1] != label {
			labels = append(labels, label)
		}
	}
	if len(labels) == 0 {
		return ""
	}
	return strings.Join(labels, ":") + ": "
}

// ConsoleLogger prints log and error lines to the console without touching storage. Use it for
// code that wants a Logger but does not run inside a session.
type ConsoleLogger struct {
	name    string
	out     io.Writer
	context contextStack
}

// NewConsoleLogger creates a console logger. A non-empty name is prefixed to every line.
func NewConsoleLogger(name string, out io.Writer) *ConsoleLogger {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleLogger{name: name, out: out}
}

func (c *ConsoleLogger) Log(text string) {
	c.print("LOG", text)
}

func (c *ConsoleLogger) Error(text string) {
	c.print("ERR", text)
}

func (c *ConsoleLogger) PushContext(name string) {
	c.context.push(name)
}

func (c *ConsoleLogger) PopContext() {
	c.context.pop()
}

// Context returns the current context prefix
func (c *ConsoleLogger) Context() string {
	return c.context.prefix()
}

func (c *ConsoleLogger) print(tag, text string) {
	line := c.context.prefix() + strings.TrimSpace(text)
	if c.name != "" {
		line = c.name + ": " + line
	}
	_, _ = fmt.Fprintf(c.out, "%s: %s\n", tag, line)
}

var (
	_ Logger = (*ConsoleLogger)(nil)
	_ Logger = (*Session)(nil)
)
