// Package model holds the entities shared by the scheduler tiers.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a site, telescope or target.
type Status int

const (
	StatusOK     Status = 0
	StatusDelete Status = 1
	StatusMasked Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusDelete:
		return "deleted"
	case StatusMasked:
		return "masked"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// TaskStatus is the execution state of a task record.
type TaskStatus int

const (
	TaskSuccess    TaskStatus = 0
	TaskFail       TaskStatus = 1
	TaskComplete   TaskStatus = 2
	TaskIncomplete TaskStatus = 3
	TaskExecuting  TaskStatus = 4
	TaskGenerated  TaskStatus = 5
)

func (s TaskStatus) String() string {
	switch s {
	case TaskSuccess:
		return "success"
	case TaskFail:
		return "fail"
	case TaskComplete:
		return "complete"
	case TaskIncomplete:
		return "incomplete"
	case TaskExecuting:
		return "executing"
	case TaskGenerated:
		return "generated"
	default:
		return fmt.Sprintf("task_status(%d)", int(s))
	}
}

// Role selects which tier a scheduler plays.
type Role int

const (
	RoleGlobal  Role = 1
	RoleSite    Role = 2
	RoleUnit    Role = 3
	RoleUnknown Role = 4
)

func (r Role) String() string {
	switch r {
	case RoleGlobal:
		return "global"
	case RoleSite:
		return "site"
	case RoleUnit:
		return "unit"
	default:
		return "unknown"
	}
}

// ParseRole maps a configuration string to a Role. Unrecognized values yield
// RoleUnknown.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "global":
		return RoleGlobal
	case "site":
		return RoleSite
	case "unit":
		return RoleUnit
	default:
		return RoleUnknown
	}
}

// Format is the encoding of a document carried by a command.
type Format uint32

const FormatJSON Format = 1

type Site struct {
	ID     uint64  `json:"site_id"`
	Name   string  `json:"sitename"`
	Status Status  `json:"status"`
	Lon    float64 `json:"site_lon"`
	Lat    float64 `json:"site_lat"`
	Alt    float64 `json:"site_alt"`
}

type Telescope struct {
	ID          uint64          `json:"tel_id"`
	SiteID      uint64          `json:"site_id"`
	Name        string          `json:"telescop"`
	Status      Status          `json:"status"`
	Description json.RawMessage `json:"tel_des,omitempty"`
	RA          float64         `json:"ra_point,omitempty"`
	Dec         float64         `json:"dec_point,omitempty"`
}

type Target struct {
	ID       uint64  `json:"targ_id"`
	Nside    int64   `json:"nside"`
	Name     string  `json:"targname"`
	RA       float64 `json:"ra_targ"`
	Dec      float64 `json:"dec_targ"`
	Status   Status  `json:"status"`
	Priority int     `json:"priority"`
}

type TaskRecord struct {
	ID          uint64          `json:"task_id"`
	TargetID    uint64          `json:"targ_id"`
	Nside       int64           `json:"nside"`
	TelescopeID uint64          `json:"tel_id"`
	SiteID      uint64          `json:"site_id"`
	Status      TaskStatus      `json:"status"`
	ObsTime     float64         `json:"obstime"`
	Description json.RawMessage `json:"task_des,omitempty"`
}

// TaskBlock is a batch of planned work handed from the global tier to one
// site.
type TaskBlock struct {
	ID        string       `json:"block_id"`
	SiteID    uint64       `json:"site_id"`
	CreatedAt time.Time    `json:"created_at"`
	Targets   []Target     `json:"targets"`
	Tasks     []TaskRecord `json:"tasks"`
}

// EpochSeconds renders t the way timestamps travel on the wire.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
