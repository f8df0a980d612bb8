package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"pdf-chat-backend/internal/rag"
	"pdf-chat-backend/models"
)

// TranscriptExport is the structured form of one session's history.
type TranscriptExport struct {
	ExportInfo ExportInfo   `json:"export_info"`
	Turns      []TurnExport `json:"turns"`
}

type ExportInfo struct {
	SessionID   string    `json:"session_id"`
	ExportDate  time.Time `json:"export_date"`
	TotalTurns  int       `json:"total_turns"`
	DocumentIDs []string  `json:"document_ids"`
}

type TurnExport struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Sources   string    `json:"sources,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ExportService renders session transcripts as JSON or Excel.
type ExportService struct {
	sessions *rag.SessionStore
}

func NewExportService(sessions *rag.SessionStore) *ExportService {
	return &ExportService{sessions: sessions}
}

// ExportJSON serializes the full transcript of a session.
func (e *ExportService) ExportJSON(ctx context.Context, sessionID string) ([]byte, error) {
	data, err := e.buildTranscript(sessionID)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(data, "", "  ")
}

// ExportExcel renders the transcript as an xlsx workbook with one sheet
// of turns and a small info header.
func (e *ExportService) ExportExcel(ctx context.Context, sessionID string) ([]byte, error) {
	data, err := e.buildTranscript(sessionID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := "Transcript"
	f.SetSheetName("Sheet1", sheet)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return nil, err
	}

	f.SetCellValue(sheet, "A1", "Session")
	f.SetCellValue(sheet, "B1", data.ExportInfo.SessionID)
	f.SetCellValue(sheet, "A2", "Exported")
	f.SetCellValue(sheet, "B2", data.ExportInfo.ExportDate.Format(time.RFC3339))
	f.SetCellValue(sheet, "A3", "Documents")
	f.SetCellValue(sheet, "B3", strings.Join(data.ExportInfo.DocumentIDs, ", "))

	headers := []string{"Timestamp", "Role", "Message", "Sources"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 5)
		f.SetCellValue(sheet, cell, h)
	}
	f.SetCellStyle(sheet, "A5", "D5", headerStyle)

	for i, turn := range data.Turns {
		row := i + 6
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), turn.Timestamp.Format(time.RFC3339))
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), turn.Role)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), turn.Content)
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), turn.Sources)
	}

	f.SetColWidth(sheet, "A", "A", 22)
	f.SetColWidth(sheet, "B", "B", 12)
	f.SetColWidth(sheet, "C", "C", 80)
	f.SetColWidth(sheet, "D", "D", 40)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *ExportService) buildTranscript(sessionID string) (*TranscriptExport, error) {
	sess, err := e.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	turns, err := e.sessions.History(sessionID, 0)
	if err != nil {
		return nil, err
	}

	out := &TranscriptExport{
		ExportInfo: ExportInfo{
			SessionID:   sessionID,
			ExportDate:  time.Now(),
			TotalTurns:  len(turns),
			DocumentIDs: sess.DocumentIDs,
		},
		Turns: make([]TurnExport, 0, len(turns)),
	}
	for _, t := range turns {
		out.Turns = append(out.Turns, TurnExport{
			Role:      t.Role,
			Content:   t.Content,
			Sources:   formatSources(t.Citations),
			Timestamp: t.CreatedAt,
		})
	}
	return out, nil
}

func formatSources(citations []models.SourceCitation) string {
	if len(citations) == 0 {
		return ""
	}
	parts := make([]string, len(citations))
	for i, c := range citations {
		parts[i] = fmt.Sprintf("%s (%.2f)", c.Filename, c.RelevanceScore)
	}
	return strings.Join(parts, "; ")
}
