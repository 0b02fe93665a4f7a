package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"roced"
)

// DefaultSnapshotPath and DefaultBackupPath are the spec §6 defaults.
const (
	DefaultSnapshotPath = "log/machine_registry.json"
	DefaultBackupPath   = "log/old_machine_registry.json"
)

// pyDatetime round-trips a time.Time through the
// {"__class__":"datetime.datetime","__value__":"YYYY-MM-DD HH:MM:SS:ffffff"}
// wire format spec §6 mandates, including a literal colon (not a dot)
// before the microseconds — preserved exactly as specified.
type pyDatetime time.Time

const datetimeClass = "datetime.datetime"

func (t pyDatetime) MarshalJSON() ([]byte, error) {
	tt := time.Time(t)
	if tt.IsZero() {
		return []byte("null"), nil
	}
	value := fmt.Sprintf("%s:%06d", tt.UTC().Format("2006-01-02 15:04:05"), tt.Nanosecond()/1000)
	return json.Marshal(struct {
		Class string `json:"__class__"`
		Value string `json:"__value__"`
	}{Class: datetimeClass, Value: value})
}

func (t *pyDatetime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = pyDatetime(time.Time{})
		return nil
	}
	var wire struct {
		Class string `json:"__class__"`
		Value string `json:"__value__"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("decode datetime: %w", err)
	}
	if wire.Class != datetimeClass {
		return fmt.Errorf("decode datetime: unknown class %q", wire.Class)
	}
	idx := strings.LastIndex(wire.Value, ":")
	if idx < 0 {
		return fmt.Errorf("decode datetime: malformed value %q", wire.Value)
	}
	base, microsStr := wire.Value[:idx], wire.Value[idx+1:]
	micros, err := strconv.Atoi(microsStr)
	if err != nil {
		return fmt.Errorf("decode datetime: malformed microseconds %q", wire.Value)
	}
	parsed, err := time.Parse("2006-01-02 15:04:05", base)
	if err != nil {
		return fmt.Errorf("decode datetime: %w", err)
	}
	*t = pyDatetime(parsed.Add(time.Duration(micros) * time.Microsecond).UTC())
	return nil
}

type snapshotHistoryEntry struct {
	OldStatus    roced.MachineStatus `json:"old_status"`
	NewStatus    roced.MachineStatus `json:"new_status"`
	Timestamp    pyDatetime          `json:"timestamp"`
	ElapsedInOld float64             `json:"elapsed_in_old_status"`
}

type snapshotSlot struct {
	State    roced.SlotState `json:"slot_state"`
	Activity string          `json:"slot_activity"`
}

type snapshotRecord struct {
	ID               string                 `json:"id"`
	Status           roced.MachineStatus    `json:"status"`
	StatusLastUpdate pyDatetime             `json:"status_last_update"`
	StatusHistory    []snapshotHistoryEntry `json:"status_change_history"`
	Site             string                 `json:"site"`
	SiteType         string                 `json:"site_type"`
	MachineType      string                 `json:"machine_type"`
	MachineCores     int                    `json:"machine_cores"`
	MachineLoad      float64                `json:"machine_load"`
	HostIP           string                 `json:"host_ip"`
	Hostname         string                 `json:"hostname"`
	Gateway          string                 `json:"gateway,omitempty"`
	VPNAddress       string                 `json:"vpn_address,omitempty"`
	SlotStatus       []snapshotSlot         `json:"slot_status"`
}

func toSnapshot(id string, r roced.MachineRecord) snapshotRecord {
	hist := make([]snapshotHistoryEntry, len(r.StatusHistory))
	for i, h := range r.StatusHistory {
		hist[i] = snapshotHistoryEntry{
			OldStatus:    h.OldStatus,
			NewStatus:    h.NewStatus,
			Timestamp:    pyDatetime(h.Timestamp),
			ElapsedInOld: h.ElapsedInOld.Seconds(),
		}
	}
	slots := make([]snapshotSlot, len(r.SlotStatus))
	for i, s := range r.SlotStatus {
		slots[i] = snapshotSlot{State: s.State, Activity: s.Activity}
	}
	return snapshotRecord{
		ID:               id,
		Status:           r.Status,
		StatusLastUpdate: pyDatetime(r.StatusLastUpdate),
		StatusHistory:    hist,
		Site:             r.Site,
		SiteType:         r.SiteType,
		MachineType:      r.MachineType,
		MachineCores:     r.MachineCores,
		MachineLoad:      r.MachineLoad,
		HostIP:           r.HostIP,
		Hostname:         r.Hostname,
		Gateway:          r.Gateway,
		VPNAddress:       r.VPNAddress,
		SlotStatus:       slots,
	}
}

func fromSnapshot(s snapshotRecord) roced.MachineRecord {
	hist := make([]roced.StatusChangeEntry, len(s.StatusHistory))
	for i, h := range s.StatusHistory {
		hist[i] = roced.StatusChangeEntry{
			OldStatus:    h.OldStatus,
			NewStatus:    h.NewStatus,
			Timestamp:    time.Time(h.Timestamp),
			ElapsedInOld: time.Duration(h.ElapsedInOld * float64(time.Second)),
		}
	}
	slots := make([]roced.Slot, len(s.SlotStatus))
	for i, sl := range s.SlotStatus {
		slots[i] = roced.Slot{State: sl.State, Activity: sl.Activity}
	}
	return roced.MachineRecord{
		ID:               s.ID,
		Status:           s.Status,
		StatusLastUpdate: time.Time(s.StatusLastUpdate),
		StatusHistory:    hist,
		Site:             s.Site,
		SiteType:         s.SiteType,
		MachineType:      s.MachineType,
		MachineCores:     s.MachineCores,
		MachineLoad:      s.MachineLoad,
		HostIP:           s.HostIP,
		Hostname:         s.Hostname,
		Gateway:          s.Gateway,
		VPNAddress:       s.VPNAddress,
		SlotStatus:       slots,
	}
}

// Dump serialises the registry to path, atomically: the previous file (if
// any) is renamed to backupPath, then the fresh snapshot is written to a
// temp file and renamed into place (spec §6).
func (r *Registry) Dump(path, backupPath string) error {
	r.mu.Lock()
	out := make(map[string]snapshotRecord, len(r.machines))
	for id, rec := range r.machines {
		out[id] = toSnapshot(id, rec)
	}
	r.mu.Unlock()

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, backupPath); err != nil {
			return fmt.Errorf("rotate snapshot backup: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace snapshot file: %w", err)
	}
	return nil
}

// Load reconstitutes the registry from path, falling back to backupPath on
// read or parse failure; if both fail it leaves the registry empty and
// logs an error (spec §6/§7). Load never returns an error — an unreadable
// snapshot is a recoverable startup condition, not a fatal one.
func (r *Registry) Load(path, backupPath string) {
	machines, err := loadSnapshotFile(path)
	if err != nil {
		slog.Warn("read machine registry snapshot, falling back to backup", "path", path, "err", err)
		machines, err = loadSnapshotFile(backupPath)
		if err != nil {
			slog.Error("read backup machine registry snapshot, starting empty", "path", backupPath, "err", err)
			machines = make(map[string]roced.MachineRecord)
		}
	}

	r.mu.Lock()
	r.machines = machines
	r.mu.Unlock()
}

func loadSnapshotFile(path string) (map[string]roced.MachineRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]snapshotRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	out := make(map[string]roced.MachineRecord, len(raw))
	for id, s := range raw {
		out[id] = fromSnapshot(s)
	}
	return out, nil
}
