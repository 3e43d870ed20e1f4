package reporting

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const leaderboardSheet = "Leaderboard"

var leaderboardHeader = []any{
	"Rank", "Owner", "Badge", "Total Calls", "Avg Score", "Max Score", "Min Score",
	"Positive", "Neutral", "Negative", "Positive Ratio",
}

// WriteLeaderboardXLSX renders a leaderboard as a single-sheet workbook.
func WriteLeaderboardXLSX(w io.Writer, lb Leaderboard) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), leaderboardSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(leaderboardSheet, "A1", &leaderboardHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, e := range lb.Rankings {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			e.Rank, e.OwnerID, e.Badge, e.TotalCalls, e.AvgScore, e.MaxScore, e.MinScore,
			e.Sentiment.Positive, e.Sentiment.Neutral, e.Sentiment.Negative, e.PositiveRatio,
		}
		if err := f.SetSheetRow(leaderboardSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
