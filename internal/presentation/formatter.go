// Package presentation renders server results for the command line.
package presentation

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
	"gopkg.in/yaml.v3"
)

// Format selects how results are written.
type Format string

const (
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
	FormatJSON  Format = "json"
)

// MaxCellWidth bounds a table cell before it is truncated.
const MaxCellWidth = 60

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#54A0FF")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF8787")).Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#696969"))
	titleStyle  = lipgloss.NewStyle().Bold(true)
)

// ParseFormat validates an --output value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatTable, FormatYAML, FormatJSON:
		return f, nil
	case "":
		return FormatTable, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, yaml or json)", s)
	}
}

// DisableColor renders tables without ANSI styling.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// Formatter handles output formatting
type Formatter struct {
	writer io.Writer
	format Format
}

// NewFormatter creates a new formatter
func NewFormatter(writer io.Writer, format Format) *Formatter {
	if format == "" {
		format = FormatTable
	}
	return &Formatter{
		writer: writer,
		format: format,
	}
}

// FormatObjects formats registered objects.
func (f *Formatter) FormatObjects(objects []ObjectDTO) error {
	if f.format != FormatTable {
		return f.encode(objects)
	}
	rows := make([][]string, len(objects))
	for i, o := range objects {
		rows[i] = []string{o.Name, o.ClassName}
	}
	return f.table([]string{"NAME", "CLASS"}, rows, nil)
}

// FormatDomains formats domain names.
func (f *Formatter) FormatDomains(domains []string) error {
	if f.format != FormatTable {
		return f.encode(domains)
	}
	rows := make([][]string, len(domains))
	for i, d := range domains {
		rows[i] = []string{d}
	}
	return f.table([]string{"DOMAIN"}, rows, nil)
}

// FormatAttributes formats attribute reads. Failed reads are shown in the
// error style.
func (f *Formatter) FormatAttributes(values []AttributeValueDTO) error {
	if f.format != FormatTable {
		return f.encode(values)
	}
	rows := make([][]string, len(values))
	failed := make(map[int]bool)
	for i, v := range values {
		if v.Error != "" {
			rows[i] = []string{v.Name, v.Error}
			failed[i] = true
			continue
		}
		rows[i] = []string{v.Name, FormatValue(v.Value)}
	}
	return f.table([]string{"ATTRIBUTE", "VALUE"}, rows, failed)
}

// FormatDescriptor formats an object's capabilities.
func (f *Formatter) FormatDescriptor(d DescriptorDTO) error {
	if f.format != FormatTable {
		return f.encode(d)
	}

	title := d.Name + " (" + d.ClassName + ")"
	if _, err := fmt.Fprintln(f.writer, titleStyle.Render(title)); err != nil {
		return err
	}
	if d.Description != "" {
		if _, err := fmt.Fprintln(f.writer, d.Description); err != nil {
			return err
		}
	}

	attrs := make([][]string, len(d.Attributes))
	for i, a := range d.Attributes {
		attrs[i] = []string{a.Name, a.Type, a.Access, a.Description}
	}
	if err := f.table([]string{"ATTRIBUTE", "TYPE", "ACCESS", "DESCRIPTION"}, attrs, nil); err != nil {
		return err
	}

	ops := make([][]string, len(d.Operations))
	for i, o := range d.Operations {
		ops[i] = []string{o.Name, signature(o), o.ReturnType, o.Description}
	}
	if err := f.table([]string{"OPERATION", "SIGNATURE", "RETURNS", "DESCRIPTION"}, ops, nil); err != nil {
		return err
	}

	if len(d.Notifications) == 0 {
		return nil
	}
	notifs := make([][]string, len(d.Notifications))
	for i, n := range d.Notifications {
		notifs[i] = []string{n.Name, strings.Join(n.Types, ", "), n.Description}
	}
	return f.table([]string{"NOTIFICATION", "TYPES", "DESCRIPTION"}, notifs, nil)
}

// FormatInvokeResult formats an operation result.
func (f *Formatter) FormatInvokeResult(r InvokeResultDTO) error {
	if f.format != FormatTable {
		return f.encode(r)
	}
	_, err := fmt.Fprintln(f.writer, FormatValue(r.Result))
	return err
}

// FormatServer formats the server description.
func (f *Formatter) FormatServer(s ServerDTO) error {
	if f.format != FormatTable {
		return f.encode(s)
	}
	return f.table([]string{"PROPERTY", "VALUE"}, [][]string{
		{"id", s.ID},
		{"specification_version", s.SpecificationVersion},
		{"implementation_name", s.ImplementationName},
		{"implementation_version", s.ImplementationVersion},
	}, nil)
}

func signature(o OperationDTO) string {
	params := append([]string(nil), o.Signature...)
	if o.Variadic && len(params) > 0 {
		params[len(params)-1] = "..." + strings.TrimPrefix(params[len(params)-1], "[]")
	}
	return "(" + strings.Join(params, ", ") + ")"
}

func (f *Formatter) encode(v any) error {
	switch f.format {
	case FormatYAML:
		encoder := yaml.NewEncoder(f.writer)
		encoder.SetIndent(2)
		if err := encoder.Encode(v); err != nil {
			return err
		}
		return encoder.Close()
	default:
		encoder := json.NewEncoder(f.writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	}
}

func (f *Formatter) table(headers []string, rows [][]string, failed map[int]bool) error {
	for _, row := range rows {
		for i, cell := range row {
			row[i] = ansi.Truncate(cell, MaxCellWidth, "…")
		}
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case failed[row]:
				return errorStyle
			default:
				return cellStyle
			}
		})

	_, err := fmt.Fprintln(f.writer, t.String())
	return err
}

// FormatValue renders a single value for a table cell. Maps are printed with
// sorted keys.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "<nil>"
	case string:
		return val
	case map[string]string:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + val[k]
		}
		return strings.Join(parts, ", ")
	case []string:
		return strings.Join(val, ", ")
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(v)
	}
}
