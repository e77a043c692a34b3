// Package report renders classroom data as spreadsheets.
package report

import (
	"errors"
	"fmt"

	"github.com/atharvakonge/classroom-market/internal/portfolio"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	rankingSheet  = "Ranking"
	holdingsSheet = "Holdings"
	// ContentType of the generated workbook
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var ErrEmptyClassroom = errors.New("classroom has no students")

type XLSXGenerator struct {
	log zerolog.Logger
}

func NewXLSXGenerator(log zerolog.Logger) *XLSXGenerator {
	return &XLSXGenerator{log: log.With().Str("component", "report").Logger()}
}

// Ranking builds a workbook with the leaderboard on the first sheet and
// every student's positions on the second.
func (g *XLSXGenerator) Ranking(summaries []portfolio.Summary) ([]byte, error) {
	if len(summaries) == 0 {
		return nil, ErrEmptyClassroom
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			g.log.Error().Err(err).Msg("closing workbook")
		}
	}()

	if err := f.SetSheetName("Sheet1", rankingSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(holdingsSheet); err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}

	header, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#cfe2f3"}},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}

	if err := g.fillRanking(f, portfolio.Rank(summaries), header); err != nil {
		return nil, err
	}
	if err := g.fillHoldings(f, summaries, header); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	g.log.Debug().Int("students", len(summaries)).Msg("ranking workbook generated")
	return buf.Bytes(), nil
}

func (g *XLSXGenerator) fillRanking(f *excelize.File, rankings []portfolio.Ranking, header int) error {
	cols := []string{"Rank", "Name", "Username", "Total assets", "Profit"}
	if err := writeRow(f, rankingSheet, 1, toAny(cols)); err != nil {
		return err
	}
	if err := f.SetCellStyle(rankingSheet, "A1", "E1", header); err != nil {
		return fmt.Errorf("apply style: %w", err)
	}

	for i, r := range rankings {
		row := []any{r.Rank, r.Name, r.Username, r.TotalAssets, r.TotalProfit}
		if err := writeRow(f, rankingSheet, i+2, row); err != nil {
			return err
		}
	}
	return f.SetColWidth(rankingSheet, "B", "C", 20)
}

func (g *XLSXGenerator) fillHoldings(f *excelize.File, summaries []portfolio.Summary, header int) error {
	cols := []string{"Username", "Code", "Stock", "Quantity", "Avg price", "Price", "Market value", "Profit", "Profit %", "Delisted"}
	if err := writeRow(f, holdingsSheet, 1, toAny(cols)); err != nil {
		return err
	}
	if err := f.SetCellStyle(holdingsSheet, "A1", "J1", header); err != nil {
		return fmt.Errorf("apply style: %w", err)
	}

	rowNum := 2
	for _, s := range summaries {
		for _, p := range s.Positions {
			row := []any{
				s.Student.Username, p.StockCode, p.StockName, p.Quantity, p.AverageBuyPrice,
				p.CurrentPrice, p.MarketValue, p.Profit, p.ProfitRate.InexactFloat64(), p.Delisted,
			}
			if err := writeRow(f, holdingsSheet, rowNum, row); err != nil {
				return err
			}
			rowNum++
		}
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
