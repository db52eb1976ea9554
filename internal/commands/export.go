package commands

import (
	"context"
	"fmt"

	"schedbot/internal/ics"
	"schedbot/internal/transport"
	"schedbot/internal/transport/telegram/router"
)

func (s *Service) cmdExport(ctx context.Context, req *router.Request) error {
	cal, _, err := s.calendar(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	events, err := s.store.ListEvents(ctx, cal.ID)
	if err != nil {
		return err
	}
	data, err := ics.Export(cal, events, s.now())
	if err != nil {
		return err
	}
	_, err = req.Adapter.SendDocument(ctx, req.Chat, transport.Document{
		FileName: ics.FileName(cal),
		MIME:     "text/calendar",
		Data:     data,
		Caption:  fmt.Sprintf("📅 %d events", len(events)),
	})
	return err
}
