package model

import (
	"fmt"
	"strings"
	"time"
)

const DefaultPrefix = "/"

// Calendar is per-group configuration. ID is the group chat id.
type Calendar struct {
	ID             int64
	Timezone       string
	DefaultChannel ChatTarget
	Prefix         string
}

// ChatTarget is a chat plus optional forum topic.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// Initialised reports whether a timezone has been configured.
func (c *Calendar) Initialised() bool {
	return c != nil && strings.TrimSpace(c.Timezone) != ""
}

func (c *Calendar) Location() (*time.Location, error) {
	if !c.Initialised() {
		return nil, fmt.Errorf("calendar %d has no timezone", c.ID)
	}
	return time.LoadLocation(c.Timezone)
}
