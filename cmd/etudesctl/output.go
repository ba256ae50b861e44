package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/boddenberg/etudes-bfa-go/internal/domain"

	"gopkg.in/yaml.v3"
)

type format string

const (
	formatTable format = "table"
	formatJSON  format = "json"
	formatYAML  format = "yaml"
)

func parseFormat(raw string) (format, error) {
	switch f := format(strings.ToLower(raw)); f {
	case formatTable, formatJSON, formatYAML:
		return f, nil
	case "yml":
		return formatYAML, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", raw)
	}
}

func render(w io.Writer, raw string, v any) error {
	f, err := parseFormat(raw)
	if err != nil {
		return err
	}
	switch f {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		return writeYAML(w, v)
	default:
		return writeTable(w, v)
	}
}

// writeYAML goes through JSON so field names match the API.
func writeYAML(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(payload, &doc); err != nil {
		return err
	}
	blockStyle(&doc)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return err
	}
	return enc.Close()
}

// blockStyle drops the flow and quoting styles inherited from JSON.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

func writeTable(w io.Writer, v any) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	switch v := v.(type) {
	case []domain.Study:
		fmt.Fprintln(tw, "ID\tTITLE\tCLIENT\tAMOUNT\tSTATUS\tCREATED")
		for _, s := range v {
			writeStudyRow(tw, s)
		}
	case *domain.Study:
		fmt.Fprintln(tw, "ID\tTITLE\tCLIENT\tAMOUNT\tSTATUS\tCREATED")
		writeStudyRow(tw, *v)
	case *domain.Dashboard:
		k := v.KPIs
		fmt.Fprintf(tw, "Total\t%d\n", k.TotalCount)
		for _, s := range domain.StatusOrder {
			fmt.Fprintf(tw, "%s\t%d\n", s.Label(), k.ByStatus[s])
		}
		fmt.Fprintf(tw, "Total amount\t%s\n", formatAmount(k.TotalAmount))
		fmt.Fprintf(tw, "Average amount\t%s\n", formatAmount(k.AverageAmount))
		fmt.Fprintf(tw, "Created this month\t%d\n", k.CreatedThisMonth)
		fmt.Fprintln(tw, "\t")
		fmt.Fprintln(tw, "MONTH\tAMOUNT\tCOUNT")
		for i, p := range v.MonthlyAmount {
			var count float64
			if i < len(v.MonthlyCount) {
				count = v.MonthlyCount[i].Value
			}
			fmt.Fprintf(tw, "%s\t%s\t%.0f\n", p.Label, formatAmount(p.Value), count)
		}
	case *domain.Overview:
		fmt.Fprintf(tw, "Revenue\t%s\n", formatAmount(v.TotalRevenue))
		fmt.Fprintf(tw, "Études\t%d\n", v.TotalStudies)
		fmt.Fprintf(tw, "In progress\t%d\n", v.StudiesInProgress)
		fmt.Fprintln(tw, "\t")
		fmt.Fprintln(tw, "RECENT\tCLIENT\tSTATUS")
		for _, s := range v.Recent {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", s.DisplayTitle(), s.DisplayClient(), s.Status.Label())
		}
	case *domain.Checklist:
		fmt.Fprintf(tw, "Étude %s\t%d/%d\n", v.StudyID, v.Completed, len(v.Documents))
		for _, d := range v.Documents {
			mark := "[ ]"
			if d.Checked {
				mark = "[x]"
			}
			fmt.Fprintf(tw, "%s\t%s %s\n", d.Key, mark, d.Label)
		}
	case domain.SuccessResponse:
		fmt.Fprintf(tw, "%s\t%s\n", v.Message, v.ID)
	default:
		return fmt.Errorf("no table layout for %T", v)
	}
	return tw.Flush()
}

func writeStudyRow(w io.Writer, s domain.Study) {
	amount := "-"
	if s.Amount != nil {
		amount = formatAmount(*s.Amount)
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.DisplayTitle(), s.DisplayClient(), amount, s.Status, s.CreatedAt)
}

func formatAmount(v float64) string {
	return fmt.Sprintf("%.2f €", v)
}
