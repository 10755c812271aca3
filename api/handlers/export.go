package handlers

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/xuri/excelize/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/aett-tours/tours-api/api"
	"github.com/aett-tours/tours-api/config"
	"github.com/aett-tours/tours-api/databases"
	"github.com/aett-tours/tours-api/models"
)

const transcriptSheet = "Transcript"

// ChatTranscriptHandler exports a session's full history as an Excel workbook
func (c *Chat) ChatTranscriptHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	session, err := c.SDB.FindOne(ctx, bson.M{"_id": sessionID})
	if err != nil {
		sessionLookupError(w, err)
		return
	}
	messages, err := c.MDB.Find(ctx, bson.M{"sessionId": sessionID}, databases.ChronologicalOpts(0, 0))
	if err != nil {
		config.ErrorStatus("failed to get chat messages", http.StatusInternalServerError, w, err)
		return
	}

	f, err := buildTranscript(*session, messages)
	if err != nil {
		config.ErrorStatus("failed to build transcript", http.StatusInternalServerError, w, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="chat-%s.xlsx"`, sessionID))
	w.WriteHeader(http.StatusOK)
	if err := f.Write(w); err != nil {
		zap.S().Errorw("failed to write transcript",
			"sessionId", sessionID,
			"error", err)
	}
}

// buildTranscript lays out the session details followed by one row per message
func buildTranscript(session models.ChatSession, messages []models.ChatMessage) (*excelize.File, error) {
	f := excelize.NewFile()
	index, err := f.NewSheet(transcriptSheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}

	details := [][]interface{}{
		{"Session", session.ID},
		{"Guest", session.GuestName},
		{"Guest email", session.GuestEmail},
		{"Status", session.Status},
		{"Started", session.CreatedAt.Format("2006-01-02 15:04:05")},
	}
	for i, row := range details {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(transcriptSheet, cell, &row); err != nil {
			return nil, err
		}
	}

	headerRow := len(details) + 2
	headers := []interface{}{"Time (UTC)", "Sender", "Name", "Operator ID", "Message"}
	cell, _ := excelize.CoordinatesToCellName(1, headerRow)
	if err := f.SetSheetRow(transcriptSheet, cell, &headers); err != nil {
		return nil, err
	}

	for i, m := range messages {
		row := []interface{}{
			m.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			m.SenderType,
			m.SenderName,
			m.OperatorID,
			m.Message,
		}
		cell, _ := excelize.CoordinatesToCellName(1, headerRow+1+i)
		if err := f.SetSheetRow(transcriptSheet, cell, &row); err != nil {
			return nil, err
		}
	}
	if err := f.SetColWidth(transcriptSheet, "E", "E", 80); err != nil {
		return nil, err
	}
	return f, nil
}
