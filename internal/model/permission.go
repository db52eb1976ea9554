package model

import (
	"fmt"
	"strings"
)

// PermissionNode names one guarded command capability.
type PermissionNode string

const (
	NodeEventCreate    PermissionNode = "event.create"
	NodeEventUpdate    PermissionNode = "event.update"
	NodeEventDelete    PermissionNode = "event.delete"
	NodeEventList      PermissionNode = "event.list"
	NodeEventRSVP      PermissionNode = "event.rsvp"
	NodeEventExport    PermissionNode = "event.export"
	NodePrefixShow     PermissionNode = "prefix.show"
	NodePrefixModify   PermissionNode = "prefix.modify"
	NodeChannelShow    PermissionNode = "channel.show"
	NodeChannelModify  PermissionNode = "channel.modify"
	NodeTimezoneShow   PermissionNode = "timezone.show"
	NodeTimezoneModify PermissionNode = "timezone.modify"
	NodePermsShow      PermissionNode = "perms.show"
	NodePermsModify    PermissionNode = "perms.modify"
	NodePing           PermissionNode = "ping"
	NodeCalendarInit   PermissionNode = "calendar.init"
)

var AllNodes = []PermissionNode{
	NodeEventCreate, NodeEventUpdate, NodeEventDelete, NodeEventList, NodeEventRSVP, NodeEventExport,
	NodePrefixShow, NodePrefixModify, NodeChannelShow, NodeChannelModify,
	NodeTimezoneShow, NodeTimezoneModify, NodePermsShow, NodePermsModify, NodePing, NodeCalendarInit,
}

func ParsePermissionNode(s string) (PermissionNode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, n := range AllNodes {
		if string(n) == s {
			return n, nil
		}
	}
	return "", fmt.Errorf("unknown permission node %q", s)
}

// Permission is an explicit allow or deny for one user on one node.
type Permission struct {
	CalendarID int64
	Node       PermissionNode
	UserID     int64
	Denied     bool
}

// Privileged reports whether the node changes calendar settings or grants.
// Such nodes need an admin or an explicit allow.
func (n PermissionNode) Privileged() bool {
	switch n {
	case NodeCalendarInit, NodePrefixModify, NodeChannelModify, NodeTimezoneModify, NodePermsModify:
		return true
	}
	return false
}

// Allowed decides access for a non-owner. explicit is the stored entry, if
// any; elevated is true for chat administrators. A deny always wins.
func Allowed(node PermissionNode, explicit *Permission, elevated bool) bool {
	if explicit != nil {
		return !explicit.Denied
	}
	return elevated || !node.Privileged()
}
