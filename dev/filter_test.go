package dev

import (
	"bytes"
	"testing"
)

const captureCisco = `Building configuration...
Current configuration : 8755 bytes
! Last configuration change at 10:11:12 UTC Mon Mar 1 2021 by admin
! NVRAM config last updated at 10:11:40 UTC Mon Mar 1 2021 by admin
hostname R1
interface Gi0/1
 ip address 10.0.0.1 255.255.255.0
end
`

const filteredCisco = `hostname R1
interface Gi0/1
 ip address 10.0.0.1 255.255.255.0
end
`

const captureIOSXR = `Thu Feb 11 15:45:43.545 BRST
Building configuration...
!! IOS XR Configuration 5.1.3
!! Last configuration change at Tue Jan 26 16:40:46 2016 by user
asr9010 uptime is 9 years, 2 weeks, 5 days, 20 hours, 3 minutes
hostname asr9010
`

const filteredIOSXR = `!! IOS XR Configuration 5.1.3
hostname asr9010
`

func TestFilterCisco(t *testing.T) {
	logger := &testLogger{t}
	tab := NewFilterTable(logger)

	out := tab.Apply(logger, "cisco", []byte(captureCisco), false)
	if !bytes.Equal(out, []byte(filteredCisco)) {
		t.Errorf("cisco filter: got=[%s] wanted=[%s]", out, filteredCisco)
	}
}

func TestFilterIOSXR(t *testing.T) {
	logger := &testLogger{t}
	tab := NewFilterTable(logger)

	out := tab.Apply(logger, "iosxr", []byte(captureIOSXR), false)
	if !bytes.Equal(out, []byte(filteredIOSXR)) {
		t.Errorf("iosxr filter: got=[%s] wanted=[%s]", out, filteredIOSXR)
	}
}

// a capture identical except for volatile lines dedups to a single snapshot
func TestFilterStabilizesCapture(t *testing.T) {
	logger := &testLogger{t}
	tab := NewFilterTable(logger)

	capture2 := `Building configuration...
Current configuration : 8755 bytes
! Last configuration change at 23:59:59 UTC Tue Mar 2 2021 by operator
! NVRAM config last updated at 23:59:59 UTC Tue Mar 2 2021 by operator
hostname R1
interface Gi0/1
 ip address 10.0.0.1 255.255.255.0
end
`

	out1 := tab.Apply(logger, "cisco", []byte(captureCisco), false)
	out2 := tab.Apply(logger, "cisco", []byte(capture2), false)
	if !bytes.Equal(out1, out2) {
		t.Errorf("volatile lines leaked: [%s] != [%s]", out1, out2)
	}
}

func TestFilterUnknownName(t *testing.T) {
	logger := &testLogger{t}
	tab := NewFilterTable(logger)

	buf := []byte("hostname R1\n")

	if out := tab.Apply(logger, "", buf, false); !bytes.Equal(out, buf) {
		t.Errorf("empty filter name modified capture: [%s]", out)
	}
	if out := tab.Apply(logger, "bogus", buf, false); !bytes.Equal(out, buf) {
		t.Errorf("unknown filter modified capture: [%s]", out)
	}
	if out := tab.Apply(logger, "drop", buf, false); len(out) != 0 {
		t.Errorf("drop filter left content: [%s]", out)
	}
}
