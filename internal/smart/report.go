package smart

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/CZERTAINLY/burnin/internal/model"
)

// report is the relevant subset of smartctl --json output.
type report struct {
	Smartctl struct {
		ExitStatus int `json:"exit_status"`
		Messages   []struct {
			String   string `json:"string"`
			Severity string `json:"severity"`
		} `json:"messages"`
	} `json:"smartctl"`
	Device struct {
		Name     string `json:"name"`
		Type     string `json:"type"`
		Protocol string `json:"protocol"`
	} `json:"device"`
	ModelFamily  string `json:"model_family"`
	ModelName    string `json:"model_name"`
	SerialNumber string `json:"serial_number"`
	// nil when the device does not report it
	RotationRate *int `json:"rotation_rate"`
	UserCapacity struct {
		Bytes uint64 `json:"bytes"`
	} `json:"user_capacity"`
	NVMeTotalCapacity uint64 `json:"nvme_total_capacity"`
	ATASmartData      struct {
		SelfTest struct {
			Status struct {
				Value            int    `json:"value"`
				String           string `json:"string"`
				Passed           *bool  `json:"passed"`
				RemainingPercent int    `json:"remaining_percent"`
			} `json:"status"`
			PollingMinutes struct {
				Short    int `json:"short"`
				Extended int `json:"extended"`
			} `json:"polling_minutes"`
		} `json:"self_test"`
	} `json:"ata_smart_data"`
	NVMeSelfTestLog *struct {
		CurrentSelfTestOperation struct {
			Value  int    `json:"value"`
			String string `json:"string"`
		} `json:"current_self_test_operation"`
		CurrentSelfTestCompletionPercent int `json:"current_self_test_completion_percent"`
		Table                            []struct {
			SelfTestCode struct {
				Value int `json:"value"`
			} `json:"self_test_code"`
			SelfTestResult struct {
				Value  int    `json:"value"`
				String string `json:"string"`
			} `json:"self_test_result"`
		} `json:"table"`
	} `json:"nvme_self_test_log"`
}

func parse(raw []byte) (report, error) {
	var r report
	if err := json.Unmarshal(raw, &r); err != nil {
		return report{}, fmt.Errorf("parsing smartctl output: %w", err)
	}
	return r, nil
}

func (r report) nvme() bool {
	return strings.EqualFold(r.Device.Protocol, "NVMe")
}

// class defaults to mechanical. Only an explicit zero rotation rate or an
// NVMe device is solid-state.
func (r report) class() model.Class {
	if r.nvme() || (r.RotationRate != nil && *r.RotationRate == 0) {
		return model.ClassSolidState
	}
	return model.ClassMechanical
}

func (r report) profile(path string) model.Profile {
	capacity := r.UserCapacity.Bytes
	if capacity == 0 {
		capacity = r.NVMeTotalCapacity
	}
	return model.Profile{
		Path:            path,
		Model:           r.ModelName,
		Serial:          r.SerialNumber,
		Class:           r.class(),
		CapacityBytes:   capacity,
		ShortMinutes:    r.ATASmartData.SelfTest.PollingMinutes.Short,
		ExtendedMinutes: r.ATASmartData.SelfTest.PollingMinutes.Extended,
	}.Normalize()
}

// selfTest is the state of the most recent self-test.
type selfTest struct {
	running bool
	// known is false when the device has no record of any self-test
	known  bool
	failed bool
	text   string
}

// ATA self-test execution status, upper nibble of the status byte.
const (
	ataCompleted  = 0x0
	ataLastFailed = 0x8
	ataRunning    = 0xf
)

// NVMe self-test result values.
const (
	nvmeCompleted = 0x0
	nvmeUnused    = 0xf
)

func (r report) selfTest() selfTest {
	if r.nvme() {
		return r.nvmeSelfTest()
	}
	st := r.ATASmartData.SelfTest.Status
	code := st.Value >> 4
	s := selfTest{known: true, text: st.String}
	switch {
	case code == ataRunning:
		s.running = true
	case code == ataCompleted:
		s.failed = st.Passed != nil && !*st.Passed
	case code <= ataLastFailed:
		s.failed = true
	default:
		// reserved values
		s.known = false
	}
	return s
}

func (r report) nvmeSelfTest() selfTest {
	log := r.NVMeSelfTestLog
	if log == nil {
		return selfTest{}
	}
	if log.CurrentSelfTestOperation.Value != 0 {
		return selfTest{running: true, known: true, text: log.CurrentSelfTestOperation.String}
	}
	if len(log.Table) == 0 || log.Table[0].SelfTestResult.Value == nvmeUnused {
		return selfTest{}
	}
	last := log.Table[0].SelfTestResult
	return selfTest{
		known:  true,
		failed: last.Value != nvmeCompleted,
		text:   last.String,
	}
}

func succeeded(s selfTest) bool {
	return s.known && !s.running && !s.failed
}

func failed(s selfTest) bool {
	return s.known && !s.running && s.failed
}
