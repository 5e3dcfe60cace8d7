package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/websynth/patchbay"
)

const defaultDescribeTemplate = `{{ with .Sequencer -}}
{{ .BPM }} BPM, {{ .Width }} steps, {{ title .Scheme }} timing
{{- end }}
{{ range $i, $m := .Modules }}
{{ add1 $i }}. {{ title $m.Type }}{{ with $m.Kind }} ({{ title . }}){{ end }} {{ with $m.Name }}"{{ . }}" {{ end }}[{{ trunc 8 (printf "%s" $m.ID) }}]
{{- range params $m }}
    {{ label . }}: {{ hint $m . }}
{{- end }}
{{- range $j, $e := $m.Effects }}
    effect {{ $j }}: {{ title $e.Type }}, {{ percent $e.Wetness }} wet{{ if $e.Bypass }}, bypassed{{ end }}
{{- end }}
{{- range $port, $from := $m.Connections }}
    {{ $port }} <- {{ $from }}
{{- end }}
{{- if eq $m.Type "voice" }}
    note {{ $m.Note }} on {{ default "nothing" (printf "%s" $m.Target) }} |{{ steps $m }}|
{{- end }}
{{- end }}
`

var describeCmd = &cobra.Command{
	Use:   "describe description.yml",
	Short: "Print a human readable summary of a description",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := readDescription(args[0])
		if err != nil {
			return err
		}
		text := defaultDescribeTemplate
		if path, _ := cmd.Flags().GetString("template"); path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("could not read template: %w", err)
			}
			text = string(data)
		}
		return describe(cmd.OutOrStdout(), d, text)
	},
}

func init() {
	rootCmd.AddCommand(describeCmd)
	describeCmd.Flags().StringP("template", "t", "", "Go text/template to render the description with")
}

func describe(w io.Writer, d patchbay.Description, text string) error {
	tmpl, err := template.New("describe").Funcs(sprig.TxtFuncMap()).Funcs(describeFuncs()).Parse(text)
	if err != nil {
		return fmt.Errorf("could not parse template: %w", err)
	}
	if err := tmpl.Execute(w, d); err != nil {
		return fmt.Errorf("could not render description: %w", err)
	}
	return nil
}

func describeFuncs() template.FuncMap {
	title := func(v any) string {
		return cases.Title(language.English).String(fmt.Sprint(v))
	}
	return template.FuncMap{
		"title": title,
		"label": func(name string) string {
			return title(strings.ReplaceAll(name, "_", " "))
		},
		"params": func(m patchbay.Module) []string {
			names := make([]string, 0, len(m.Parameters))
			for name := range m.Parameters {
				names = append(names, name)
			}
			slices.Sort(names)
			return names
		},
		"hint": func(m patchbay.Module, name string) string {
			v := m.Parameters[name]
			if p, ok := m.Parameter(name); ok {
				return p.Hint(v)
			}
			return strconv.FormatFloat(v, 'g', -1, 64)
		},
		"percent": func(v float64) string {
			return strconv.FormatFloat(v*100, 'f', 0, 64) + "%"
		},
		"steps": func(m patchbay.Module) string {
			var b strings.Builder
			for _, on := range m.Steps {
				if on {
					b.WriteByte('x')
				} else {
					b.WriteByte('.')
				}
			}
			return b.String()
		},
	}
}
