// Package mappingtest provides a shared site mapping fixture for tests.
package mappingtest

import (
	"testing"

	"shelter-engine/pkg/mapping"
)

// SitesYAML describes one shelter with a cooler, a sensor and a door
// (no register interface) device type.
const SitesYAML = `
version: "1.0"
sites:
  c0101:
    name: Shelter C0101
    device_types:
      cooler:
        protocol: modbus
        fields:
          POWER: {name: power, transform: bool}
          CUR_TEMP: {name: cur_temp, transform: temperature}
          TARGET_TEMP: {name: target_temp, transform: temperature}
          AUTO_MODE: {name: auto_mode, transform: bool}
          FAN_SPEED: {name: fan_speed}
          START_TIME_1: {name: start_time_1, kind: time}
        commands:
          GET_POWER: {function_code: 1, address: 0, length: 1}
          SET_POWER_ON: {function_code: 5, address: 0, length: 1, value: 1, field: POWER}
          SET_POWER_OFF: {function_code: 5, address: 0, length: 1, value: 0, field: POWER}
          GET_CUR_TEMP: {function_code: 3, address: 120, length: 1}
          GET_TARGET_TEMP: {function_code: 3, address: 121, length: 1}
          SET_TARGET_TEMP: {function_code: 6, address: 121, length: 1}
          GET_AUTO_MODE: {function_code: 1, address: 1, length: 1}
          SET_AUTO_MODE: {function_code: 5, address: 1, length: 1}
          GET_FAN_SPEED: {function_code: 3, address: 122, length: 1}
          GET_START_TIME_1_HOUR: {function_code: 3, address: 130, length: 1}
          GET_START_TIME_1_MINUTE: {function_code: 3, address: 131, length: 1}
          SET_START_TIME_1_HOUR: {function_code: 6, address: 130, length: 1}
          SET_START_TIME_1_MINUTE: {function_code: 6, address: 131, length: 1}
        units:
          u001: {device: d0101, slave_id: 1}
          u002:
            device: d0101
            slave_id: 2
            commands:
              GET_CUR_TEMP: {function_code: 4, address: 220, length: 1}
      sensor:
        protocol: modbus
        fields:
          HUMIDITY: {name: humidity, transform: scale, factor: 0.1}
          VOLTAGE: {name: voltage, transform: formula, formula: "x*0.01+1"}
        commands:
          GET_HUMIDITY: {function_code: 4, address: 10, length: 1}
          GET_VOLTAGE: {function_code: 4, address: 11, length: 1}
        units:
          s001: {device: d0101, slave_id: 5}
      door:
        protocol: none
        fields:
          OPEN: {name: open, transform: bool}
        commands:
          GET_OPEN: {function_code: 2, address: 0, length: 1}
        units:
          door1: {device: d0101, slave_id: 9}
`

// Cooler is the target of the first cooler unit
var Cooler = mapping.Target{SiteID: "c0101", DeviceType: "cooler", UnitID: "u001"}

// Table parses SitesYAML or fails the test
func Table(tb testing.TB) *mapping.Table {
	tb.Helper()
	table, err := mapping.ParseTable([]byte(SitesYAML), nil)
	if err != nil {
		tb.Fatalf("failed to parse mapping fixture: %v", err)
	}
	return table
}
