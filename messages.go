package atom

// Reserved field names. The core writes these itself on every frame it
// constructs and rejects them from user-supplied entry_write payloads,
// per spec.md §3.
var reservedEntryKeys = map[string]struct{}{
	"element": {}, "cmd": {}, "cmd_id": {}, "err_code": {},
	"err_str": {}, "timeout": {}, "ser": {}, "data": {}, "id": {},
}

func isReservedKey(k string) bool {
	_, ok := reservedEntryKeys[k]
	return ok
}

// cmdFrame is the wire shape of a command written to command:<callee>.
type cmdFrame struct {
	Element string
	Cmd     string
	Data    []byte
}

func (f cmdFrame) values() map[string]interface{} {
	return map[string]interface{}{
		"element": f.Element,
		"cmd":     f.Cmd,
		"data":    f.Data,
	}
}

// acknowledgeFrame is the wire shape of the early reply written to
// response:<caller> by the callee's command loop.
type acknowledgeFrame struct {
	Element string
	CmdID   string
	Timeout int64 // milliseconds
}

func (f acknowledgeFrame) values() map[string]interface{} {
	return map[string]interface{}{
		"element": f.Element,
		"cmd_id":  f.CmdID,
		"timeout": f.Timeout,
	}
}

// Response is both the value a command handler returns and the value
// CommandSend returns to its caller. Data is the application value
// before (handler return) or after (CommandSend return) wire
// serialization -- never raw wire bytes in user-facing code.
type Response struct {
	ErrCode int
	ErrStr  string
	Data    interface{}
	// Serialization is the tag the response's Data was (or should be)
	// encoded with. Handlers may leave this empty to use the command's
	// registered tag.
	Serialization string
}

// responseFrame is the wire shape of a response written to
// response:<caller>, after Data has been serialized to bytes.
type responseFrame struct {
	Element string
	Cmd     string
	CmdID   string
	ErrCode int
	ErrStr  string
	Data    []byte
	Ser     string
}

func (f responseFrame) values() map[string]interface{} {
	v := map[string]interface{}{
		"element":  f.Element,
		"cmd":      f.Cmd,
		"cmd_id":   f.CmdID,
		"err_code": f.ErrCode,
	}
	if f.ErrStr != "" {
		v["err_str"] = f.ErrStr
	}
	if len(f.Data) > 0 {
		v["data"] = f.Data
		v["ser"] = f.Ser
	}
	return v
}

// logFrame is the wire shape of an entry appended to the shared log
// stream by Element.Log.
type logFrame struct {
	Element string
	Host    string
	Level   int
	Msg     string
}

func (f logFrame) values() map[string]interface{} {
	return map[string]interface{}{
		"element": f.Element,
		"host":    f.Host,
		"level":   f.Level,
		"msg":     f.Msg,
	}
}

// Entry is one decoded stream record: its field map plus the
// server-assigned id, attached under the reserved "id" key per
// spec.md §4.4.
type Entry map[string]interface{}

// ID returns the entry's stream id, or "" if absent.
func (e Entry) ID() string {
	if v, ok := e["id"].(string); ok {
		return v
	}
	return ""
}

// HandlerFunc is a user command handler. data is the deserialized
// command payload (nil for commands sent with empty data).
type HandlerFunc func(data interface{}) Response

// NoArgHandlerFunc is the shape of the three reserved built-in
// handlers (healthcheck/version/command_list), none of which consult
// their caller's payload.
type NoArgHandlerFunc func() Response

// EntryHandlerFunc processes one decoded Entry delivered by
// EntryReadLoop for a particular subscribed stream.
type EntryHandlerFunc func(Entry)

// StreamHandler pairs a (element, stream) subscription with the
// handler EntryReadLoop dispatches its entries to.
type StreamHandler struct {
	Element string
	Stream  string
	Handler EntryHandlerFunc
}
