package testutils

import (
	"github.com/stretchr/testify/mock"

	"github.com/srg/beaconval/internal/device"
)

// MockLink is a testify mock of device.Link for tests that only need to
// verify which link operations were issued.
type MockLink struct {
	mock.Mock
}

func (m *MockLink) Address() string {
	return m.Called().String(0)
}

func (m *MockLink) DiscoverServices() {
	m.Called()
}

func (m *MockLink) Service(uuid string) device.Service {
	svc, _ := m.Called(uuid).Get(0).(device.Service)
	return svc
}

func (m *MockLink) Disconnect() {
	m.Called()
}

// MockService is a testify mock of device.Service.
type MockService struct {
	mock.Mock
}

func (m *MockService) UUID() string {
	return m.Called().String(0)
}

func (m *MockService) ReadCharacteristic(uuid string) {
	m.Called(uuid)
}

func (m *MockService) WriteCharacteristic(uuid string, value []byte) {
	m.Called(uuid, value)
}

var (
	_ device.Link    = (*MockLink)(nil)
	_ device.Service = (*MockService)(nil)
)
