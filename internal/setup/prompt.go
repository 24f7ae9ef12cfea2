// Package setup implements the interactive first-run wizard that collects the
// Graph app registration, checks it against the places API, and writes the
// roomsync config file.
package setup

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Prompter reads answers line by line from r and writes prompts to w. Tests
// inject buffers for deterministic input.
type Prompter struct {
	scanner *bufio.Scanner
	w       io.Writer
	eof     bool
}

// NewPrompter creates a Prompter wired to the given reader and writer.
func NewPrompter(r io.Reader, w io.Writer) *Prompter {
	return &Prompter{scanner: bufio.NewScanner(r), w: w}
}

// String asks for a text value. Enter alone selects defaultVal; with no
// default the question repeats until something is typed. At end of input the
// default is returned.
func (p *Prompter) String(label, defaultVal string) string {
	for {
		if defaultVal != "" {
			_, _ = fmt.Fprintf(p.w, "  %s [%s]: ", label, defaultVal)
		} else {
			_, _ = fmt.Fprintf(p.w, "  %s: ", label)
		}

		val, ok := p.line()
		if !ok {
			return defaultVal
		}
		if val == "" {
			if defaultVal != "" {
				return defaultVal
			}
			_, _ = fmt.Fprintln(p.w, "  (required, please enter a value)")
			continue
		}
		return val
	}
}

// Validated is String with a check: answers rejected by valid are reported
// and asked again.
func (p *Prompter) Validated(label, defaultVal string, valid func(string) error) (string, error) {
	for {
		val := p.String(label, defaultVal)
		err := valid(val)
		if err == nil {
			return val, nil
		}
		if p.eof {
			return "", err
		}
		_, _ = fmt.Fprintf(p.w, "  (%v)\n", err)
	}
}

// Secret asks for a sensitive value. Input is echoed; masking would need raw
// terminal mode.
func (p *Prompter) Secret(label string) string {
	return p.String(label+" (input is visible)", "")
}

// Confirm asks a yes/no question. Enter alone selects defaultYes.
func (p *Prompter) Confirm(label string, defaultYes bool) bool {
	hint := "[y/N]"
	if defaultYes {
		hint = "[Y/n]"
	}
	_, _ = fmt.Fprintf(p.w, "  %s %s: ", label, hint)

	answer, ok := p.line()
	if !ok || answer == "" {
		return defaultYes
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes"
}

// Int asks for a whole number in [lo, hi].
func (p *Prompter) Int(label string, defaultVal, lo, hi int) (int, error) {
	s, err := p.Validated(label, strconv.Itoa(defaultVal), func(s string) error {
		n, err := strconv.Atoi(s)
		if err != nil || n < lo || n > hi {
			return fmt.Errorf("enter a number between %d and %d", lo, hi)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(s)
}

// Select presents a numbered list and returns the zero-based index of the
// chosen option. Enter alone picks the first option.
func (p *Prompter) Select(label string, options []string) (int, error) {
	if len(options) == 0 {
		return -1, fmt.Errorf("no options to select from")
	}

	_, _ = fmt.Fprintf(p.w, "  %s:\n", label)
	for i, opt := range options {
		_, _ = fmt.Fprintf(p.w, "    %d) %s\n", i+1, opt)
	}
	n, err := p.Int(fmt.Sprintf("Choice [1-%d]", len(options)), 1, 1, len(options))
	if err != nil {
		return -1, err
	}
	return n - 1, nil
}

func (p *Prompter) line() (string, bool) {
	if !p.scanner.Scan() {
		p.eof = true
		return "", false
	}
	return strings.TrimSpace(p.scanner.Text()), true
}
