package storage

import "github.com/stretchr/testify/mock"

type fileManagementMock struct {
	mock.Mock
}

func (fm *fileManagementMock) readFile(filepath string) ([]byte, error) {
	args := fm.Called(filepath)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (fm *fileManagementMock) writeFileSynced(filepath string, data []byte) error {
	args := fm.Called(filepath, data)
	return args.Error(0)
}

// DurableStoreMock lets tests fail individual writes.
type DurableStoreMock struct {
	mock.Mock
}

func (m *DurableStoreMock) Get(key string) ([]byte, bool) {
	args := m.Called(key)
	data, _ := args.Get(0).([]byte)
	return data, args.Bool(1)
}

func (m *DurableStoreMock) Set(key string, value []byte) error {
	args := m.Called(key, value)
	return args.Error(0)
}
