package controller

import (
	"context"
	"math"
	"strconv"

	"github.com/janael-pinheiro/lora-sensor-node/pkg/entities"
)

const (
	linesPerPage = 5
	lineHeight   = 12
	lineIndent   = 2
)

func (c *Controller) showBanner(firmware uint16) {
	if c.Status == nil {
		return
	}
	c.Status.Show([]entities.Line{
		{Text: c.nodeID, X: lineIndent, Y: 0},
		{Text: "FW " + strconv.Itoa(int(firmware)), X: lineIndent, Y: lineHeight},
	})
}

func (c *Controller) showNoConnection() {
	if c.Status == nil {
		return
	}
	c.Status.Show([]entities.Line{{Text: "no connection", X: lineIndent, Y: 0}})
}

// showReadings pages the sent values on the display, holding each page for
// the display time.
func (c *Controller) showReadings(ctx context.Context, mode entities.Mode, readings entities.ReadingSet) {
	if c.Status == nil {
		return
	}
	pager := &displayPager{}
	if err := c.Codec.Walk(mode, readings, pager); err != nil {
		c.log.WithError(err).Debug("readings not displayable")
		return
	}
	pages := pager.pages()
	if len(pages) == 0 {
		return
	}
	for _, page := range pages {
		c.Status.Show(page)
		if c.timing.Display <= 0 {
			continue
		}
		if err := c.Platform.Sleep(ctx, c.timing.Display); err != nil {
			return
		}
	}
}

// displayPager renders each field with as many decimals as its precision
// carries.
type displayPager struct {
	lines []string
}

func (p *displayPager) VisitField(channel entities.Channel, rule entities.EncodingRule, value float64) error {
	text := "--"
	if !entities.IsMissing(value) {
		text = strconv.FormatFloat(value, 'f', decimals(rule.Precision), 64)
	}
	line := channel.Label() + " " + text
	if unit := channel.Unit(); unit != "" && text != "--" {
		line += " " + unit
	}
	p.lines = append(p.lines, line)
	return nil
}

func (p *displayPager) pages() [][]entities.Line {
	var pages [][]entities.Line
	for start := 0; start < len(p.lines); start += linesPerPage {
		end := start + linesPerPage
		if end > len(p.lines) {
			end = len(p.lines)
		}
		page := make([]entities.Line, 0, end-start)
		for i, text := range p.lines[start:end] {
			page = append(page, entities.Line{Text: text, X: lineIndent, Y: i * lineHeight})
		}
		pages = append(pages, page)
	}
	return pages
}

func decimals(precision float64) int {
	if precision <= 0 || precision >= 1 {
		return 0
	}
	return int(math.Ceil(-math.Log10(precision) - 1e-9))
}
