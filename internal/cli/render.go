// Package cli 终端输出的格式化与渲染
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	colorBorder = lipgloss.Color("#575653")
	colorAccent = lipgloss.Color("#3AA99F")
	colorGreen  = lipgloss.Color("#879A39")
	colorOrange = lipgloss.Color("#DA702C")

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	dimStyle    = lipgloss.NewStyle().Foreground(colorBorder)
	costStyle   = lipgloss.NewStyle().Foreground(colorGreen)
	warnStyle   = lipgloss.NewStyle().Foreground(colorOrange)
	plainStyle  = lipgloss.NewStyle()
)

// Renderer 输出到终端时带样式，重定向到文件或管道时输出纯文本
type Renderer struct {
	w      io.Writer
	styled bool
}

func NewRenderer(w io.Writer) *Renderer {
	styled := false
	if f, ok := w.(*os.File); ok {
		styled = term.IsTerminal(int(f.Fd()))
	}
	return &Renderer{w: w, styled: styled}
}

func (r *Renderer) style(s lipgloss.Style, text string) string {
	if !r.styled {
		return text
	}
	return s.Render(text)
}

type Table struct {
	Title   string
	Headers []string
	Rows    [][]string
}

// Table 首列左对齐，其余列右对齐
func (r *Renderer) Table(t Table) {
	numCols := len(t.Headers)
	widths := make([]int, numCols)
	for i, h := range t.Headers {
		widths[i] = len(h)
	}
	for _, row := range t.Rows {
		for i := 0; i < numCols && i < len(row); i++ {
			if len(row[i]) > widths[i] {
				widths[i] = len(row[i])
			}
		}
	}

	var b strings.Builder
	if t.Title != "" {
		b.WriteString(r.style(headerStyle, t.Title) + "\n")
	}
	line := func(left, mid, right string) {
		b.WriteString(r.style(dimStyle, left))
		for i, w := range widths {
			b.WriteString(r.style(dimStyle, strings.Repeat("─", w+2)))
			if i < numCols-1 {
				b.WriteString(r.style(dimStyle, mid))
			}
		}
		b.WriteString(r.style(dimStyle, right) + "\n")
	}
	cells := func(row []string, s lipgloss.Style) {
		b.WriteString(r.style(dimStyle, "│"))
		for i := 0; i < numCols; i++ {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			format := " %*s "
			if i == 0 {
				format = " %-*s "
			}
			b.WriteString(r.style(s, fmt.Sprintf(format, widths[i], cell)))
			b.WriteString(r.style(dimStyle, "│"))
		}
		b.WriteString("\n")
	}

	line("╭", "┬", "╮")
	cells(t.Headers, headerStyle)
	line("├", "┼", "┤")
	for _, row := range t.Rows {
		cells(row, plainStyle)
	}
	line("╰", "┴", "╯")

	fmt.Fprint(r.w, b.String())
}

// KeyValues 渲染两列键值对
func (r *Renderer) KeyValues(title string, pairs [][2]string) {
	width := 0
	for _, p := range pairs {
		if len(p[0]) > width {
			width = len(p[0])
		}
	}
	if title != "" {
		fmt.Fprintln(r.w, r.style(headerStyle, title))
	}
	for _, p := range pairs {
		fmt.Fprintf(r.w, "  %s  %s\n", r.style(dimStyle, fmt.Sprintf("%-*s", width, p[0])), p[1])
	}
}

func (r *Renderer) Cost(cents int64) string {
	return r.style(costStyle, FormatCents(cents))
}

func (r *Renderer) Warn(msg string) {
	fmt.Fprintln(r.w, r.style(warnStyle, msg))
}
