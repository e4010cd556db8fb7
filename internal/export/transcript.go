// Package export writes conversation transcripts to Excel workbooks.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/4xmen/cineadmin/internal/models"
)

const SheetName = "Transcript"

var headers = []string{"Time", "Sender", "Sender type", "Content", "Attachment", "Attachment URL", "Size (bytes)", "Read"}

// Transcript writes conv's messages as one workbook to w, one row per
// message in the order given.
func Transcript(w io.Writer, conv models.Conversation, messages []models.Message, loc *time.Location) error {
	f, err := Workbook(conv, messages, loc)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// SaveTranscript is Transcript to a file path.
func SaveTranscript(path string, conv models.Conversation, messages []models.Message, loc *time.Location) error {
	f, err := Workbook(conv, messages, loc)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

func Workbook(conv models.Conversation, messages []models.Message, loc *time.Location) (*excelize.File, error) {
	if loc == nil {
		loc = time.Local
	}

	f := excelize.NewFile()
	index, err := f.NewSheet(SheetName)
	if err != nil {
		f.Close()
		return nil, err
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	user := conv.User.DisplayName
	if conv.User.Email != "" {
		user += " <" + conv.User.Email + ">"
	}
	f.SetCellValue(SheetName, "A1", "Conversation")
	f.SetCellValue(SheetName, "B1", conv.ID)
	f.SetCellValue(SheetName, "C1", user)
	f.SetCellValue(SheetName, "D1", string(conv.Status))

	const headerRow = 3
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, headerRow)
		f.SetCellValue(SheetName, cell, header)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		last, _ := excelize.CoordinatesToCellName(len(headers), headerRow)
		f.SetCellStyle(SheetName, "A3", last, style)
	}
	f.SetColWidth(SheetName, "A", "A", 18)
	f.SetColWidth(SheetName, "D", "D", 60)

	row := headerRow + 1
	for _, msg := range messages {
		f.SetCellValue(SheetName, fmt.Sprintf("A%d", row), msg.CreatedAt.In(loc).Format("2006-01-02 15:04"))
		f.SetCellValue(SheetName, fmt.Sprintf("B%d", row), msg.SenderName())
		f.SetCellValue(SheetName, fmt.Sprintf("C%d", row), string(msg.SenderType))
		f.SetCellValue(SheetName, fmt.Sprintf("D%d", row), msg.Content)
		if a, err := msg.Attachments.Decode(); err == nil && a != nil {
			f.SetCellValue(SheetName, fmt.Sprintf("E%d", row), a.FileName)
			f.SetCellValue(SheetName, fmt.Sprintf("F%d", row), a.URL)
			f.SetCellValue(SheetName, fmt.Sprintf("G%d", row), a.FileSize)
		}
		f.SetCellValue(SheetName, fmt.Sprintf("H%d", row), msg.IsRead)
		row++
	}
	return f, nil
}
