// Package device defines the capabilities the validator consumes from a
// Bluetooth Low Energy stack.
//
// The package is transport-agnostic:
//   - Radio scans for advertisements and opens links
//   - Link and Service initiate GATT operations that complete asynchronously
//   - LinkEvents receives every completion together with a GATT status code
//
// Concrete implementations live in sub-packages (go-ble for real hardware,
// sim for a simulated beacon).
package device
