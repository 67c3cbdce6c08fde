package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"git.home.luguber.info/inful/livedocs/internal/page"
)

// BlocksCmd implements the 'blocks' command.
type BlocksCmd struct {
	Page string `arg:"" help:"HTML or Markdown page to scan." type:"existingfile"`
	Key  string `help:"Page key used for persistence (defaults to the page path)."`
	JSON bool   `help:"Print the discovery result as JSON."`
}

func (b *BlocksCmd) Run(g *Global, _ *CLI) error {
	p, err := page.LoadFile(b.Page, b.Key)
	if err != nil {
		return err
	}
	if b.JSON {
		enc := json.NewEncoder(g.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	}
	return printBlocks(g, p)
}

func printBlocks(g *Global, p *page.Page) error {
	tw := tabwriter.NewWriter(g.Out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tKIND\tLANGUAGE\tFLAGS")
	for _, m := range p.Blocks {
		flags := ""
		if m.Readonly {
			flags += "readonly "
		}
		if m.AutoRun {
			flags += "autorun"
		}
		lang := m.Language
		if lang == "" {
			lang = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, m.Kind, lang, flags)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if p.Config.Endpoint != "" {
		_, _ = fmt.Fprintf(g.Out, "\nendpoint: %s\n", p.Config.Endpoint)
	}
	for _, id := range p.Duplicates {
		_, _ = fmt.Fprintf(g.Out, "duplicate id %q: the later marker was kept\n", id)
	}
	for _, s := range p.Skipped {
		_, _ = fmt.Fprintf(g.Out, "skipped %q: %s\n", s.ID, s.Reason)
	}
	for _, w := range p.Warnings {
		_, _ = fmt.Fprintf(g.Out, "warning: %s\n", w)
	}
	return nil
}
