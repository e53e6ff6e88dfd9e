package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ActionType names an action variant on the wire.
type ActionType string

const (
	ActionRebootHost    ActionType = "reboot_host"
	ActionRestartCore   ActionType = "restart_ha"
	ActionRestartAddon  ActionType = "restart_addon"
	ActionCallService   ActionType = "call_service"
	ActionAutomation    ActionType = "automation"
	ActionScript        ActionType = "script"
	ActionEntityControl ActionType = "entity_control"
	ActionNotify        ActionType = "notify"
)

// ErrMissingField is returned when an action lacks a field it needs to run.
var ErrMissingField = errors.New("missing required field")

// ErrUnsupportedAction is returned for action types the dispatcher does not know.
var ErrUnsupportedAction = errors.New("unsupported action")

// Action describes the side effect of a task. Fields are validated lazily,
// when the action is turned into a control-plane call.
type Action interface {
	Type() ActionType
	Call() (APICall, error)
}

// APICall is a single control-plane request plus the message recorded when it succeeds.
type APICall struct {
	Method   string
	Endpoint string
	Payload  any
	Message  string
}

type RebootHost struct{}

func (RebootHost) Type() ActionType { return ActionRebootHost }

func (RebootHost) Call() (APICall, error) {
	return APICall{Method: http.MethodPost, Endpoint: "/host/reboot", Message: "Host reboot initiated"}, nil
}

type RestartCore struct{}

func (RestartCore) Type() ActionType { return ActionRestartCore }

func (RestartCore) Call() (APICall, error) {
	return APICall{Method: http.MethodPost, Endpoint: "/homeassistant/restart", Message: "HA restart initiated"}, nil
}

type RestartAddon struct {
	Slug string
}

func (RestartAddon) Type() ActionType { return ActionRestartAddon }

func (a RestartAddon) Call() (APICall, error) {
	slug := strings.TrimSpace(a.Slug)
	if slug == "" {
		return APICall{}, fmt.Errorf("%w: addon_slug", ErrMissingField)
	}
	return APICall{
		Method:   http.MethodPost,
		Endpoint: "/addons/" + slug + "/restart",
		Message:  fmt.Sprintf("Add-on %s restart initiated", slug),
	}, nil
}

// CallService invokes an arbitrary Home Assistant service.
type CallService struct {
	Domain  string
	Service string
	Data    map[string]any
}

func (CallService) Type() ActionType { return ActionCallService }

func (a CallService) Call() (APICall, error) {
	if a.Domain == "" || a.Service == "" {
		return APICall{}, fmt.Errorf("%w: service_domain and service_name", ErrMissingField)
	}
	data := a.Data
	if data == nil {
		data = map[string]any{}
	}
	return APICall{
		Method:   http.MethodPost,
		Endpoint: fmt.Sprintf("/core/api/services/%s/%s", a.Domain, a.Service),
		Payload:  data,
		Message:  fmt.Sprintf("Service %s.%s called", a.Domain, a.Service),
	}, nil
}

type TriggerAutomation struct {
	EntityID string
}

func (TriggerAutomation) Type() ActionType { return ActionAutomation }

func (a TriggerAutomation) Call() (APICall, error) {
	if a.EntityID == "" {
		return APICall{}, fmt.Errorf("%w: automation_id", ErrMissingField)
	}
	return APICall{
		Method:   http.MethodPost,
		Endpoint: "/core/api/services/automation/trigger",
		Payload:  map[string]any{"entity_id": a.EntityID},
		Message:  "Automation triggered",
	}, nil
}

type RunScript struct {
	EntityID string
}

func (RunScript) Type() ActionType { return ActionScript }

func (a RunScript) Call() (APICall, error) {
	if a.EntityID == "" {
		return APICall{}, fmt.Errorf("%w: script_id", ErrMissingField)
	}
	return APICall{
		Method:   http.MethodPost,
		Endpoint: "/core/api/services/script/turn_on",
		Payload:  map[string]any{"entity_id": a.EntityID},
		Message:  "Script executed",
	}, nil
}

// EntityControl turns an entity on or off, or toggles it. Light parameters
// are only sent with turn_on.
type EntityControl struct {
	EntityID        string
	Command         string
	BrightnessPct   *int
	ColorTempKelvin *int
	RGBColor        []int
	Transition      *float64
}

func (EntityControl) Type() ActionType { return ActionEntityControl }

func (a EntityControl) Call() (APICall, error) {
	if a.EntityID == "" {
		return APICall{}, fmt.Errorf("%w: entity_id", ErrMissingField)
	}
	command := a.Command
	if command == "" {
		command = "turn_on"
	}
	switch command {
	case "turn_on", "turn_off", "toggle":
	default:
		return APICall{}, fmt.Errorf("%w: entity_action %q", ErrUnsupportedAction, command)
	}
	domain := "homeassistant"
	if d, _, ok := strings.Cut(a.EntityID, "."); ok {
		domain = d
	}
	payload := map[string]any{"entity_id": a.EntityID}
	if command == "turn_on" {
		if a.BrightnessPct != nil {
			payload["brightness_pct"] = *a.BrightnessPct
		}
		if a.ColorTempKelvin != nil {
			payload["color_temp_kelvin"] = *a.ColorTempKelvin
		}
		if len(a.RGBColor) == 3 {
			payload["rgb_color"] = a.RGBColor
		}
		if a.Transition != nil {
			payload["transition"] = *a.Transition
		}
	}
	return APICall{
		Method:   http.MethodPost,
		Endpoint: fmt.Sprintf("/core/api/services/%s/%s", domain, command),
		Payload:  payload,
		Message:  fmt.Sprintf("Entity %s executed", command),
	}, nil
}

// Notify sends a message through a notify service, "notify" by default.
type Notify struct {
	Service string
	Title   string
	Message string
}

func (Notify) Type() ActionType { return ActionNotify }

func (a Notify) Call() (APICall, error) {
	if a.Message == "" {
		return APICall{}, fmt.Errorf("%w: notify_message", ErrMissingField)
	}
	service := a.Service
	if service == "" {
		service = "notify"
	}
	payload := map[string]any{"message": a.Message}
	if a.Title != "" {
		payload["title"] = a.Title
	}
	return APICall{
		Method:   http.MethodPost,
		Endpoint: "/core/api/services/notify/" + service,
		Payload:  payload,
		Message:  "Notification sent via notify." + service,
	}, nil
}

// UnknownAction keeps an action type that is not supported.
type UnknownAction struct {
	Kind string
}

func (a UnknownAction) Type() ActionType { return ActionType(a.Kind) }

func (a UnknownAction) Call() (APICall, error) {
	return APICall{}, fmt.Errorf("%w: %q", ErrUnsupportedAction, a.Kind)
}
