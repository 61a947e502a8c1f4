package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// Output форматирует результаты команд: таблицы для людей, JSON для
// пайплайнов. Данные идут в stdout, служебные сообщения — в stderr,
// поэтому `tribunal case list --json | jq .` работает без фильтрации.
type Output struct {
	jsonMode bool
	data     io.Writer
	msg      io.Writer
}

// NewOutput создаёт Output. При jsonMode=true данные выводятся в JSON.
func NewOutput(jsonMode bool) *Output {
	return &Output{jsonMode: jsonMode, data: os.Stdout, msg: os.Stderr}
}

// Print выводит строки таблицей, либо jsonData в режиме --json.
func (o *Output) Print(headers []string, rows [][]string, jsonData any) {
	if o.jsonMode {
		o.JSON(jsonData)
		return
	}
	o.Table(headers, rows)
}

// Table печатает выровненную таблицу с заголовком и разделителем.
func (o *Output) Table(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(o.data, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))

	sep := make([]string, len(headers))
	for i, h := range headers {
		sep[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(sep, "\t"))

	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}

// KV печатает детальную карточку "ключ: значение" построчно,
// пропуская пустые значения.
func (o *Output) KV(pairs [][2]string) {
	tw := tabwriter.NewWriter(o.data, 0, 0, 2, ' ', 0)
	for _, p := range pairs {
		if p[1] == "" {
			continue
		}
		fmt.Fprintf(tw, "%s:\t%s\n", p[0], p[1])
	}
	tw.Flush()
}

// JSON выводит значение с отступами.
func (o *Output) JSON(v any) {
	enc := json.NewEncoder(o.data)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		o.Error("encode output: " + err.Error())
	}
}

// Success выводит сообщение об успехе в stderr.
func (o *Output) Success(msg string) {
	fmt.Fprintln(o.msg, msg)
}

// Error выводит сообщение об ошибке в stderr.
func (o *Output) Error(msg string) {
	fmt.Fprintln(o.msg, "Error: "+msg)
}
