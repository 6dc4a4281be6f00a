package routing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/netcompare/transfer/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeResults struct {
	reports []*common.TransferReport
}

func (f *fakeResults) Save(report *common.TransferReport) error {
	f.reports = append(f.reports, report)
	return nil
}

func (f *fakeResults) List(protocol string) ([]*common.TransferReport, error) {
	if len(protocol) == 0 {
		return f.reports, nil
	}

	filtered := make([]*common.TransferReport, 0)
	for _, report := range f.reports {
		if report.Protocol == protocol {
			filtered = append(filtered, report)
		}
	}
	return filtered, nil
}

func testServer(results *fakeResults) *httptest.Server {
	logger, _ := zap.NewDevelopment()

	manager := NewManager()
	manager.Add(NewReportsRouter(results, nil, logger))

	return httptest.NewServer(manager.Get())
}

func TestReports_List(t *testing.T) {
	results := &fakeResults{reports: []*common.TransferReport{
		{Protocol: "rudp", PacketsSent: 10},
		{Protocol: "tcp", PacketsSent: 5},
	}}

	server := testServer(results)
	defer server.Close()

	response, err := http.Get(server.URL + "/reports")
	require.NoError(t, err)
	defer func() { _ = response.Body.Close() }()

	require.Equal(t, 200, response.StatusCode)

	var listed []*common.TransferReport
	require.NoError(t, json.NewDecoder(response.Body).Decode(&listed))
	assert.Len(t, listed, 2)
}

func TestReports_ListFiltered(t *testing.T) {
	results := &fakeResults{reports: []*common.TransferReport{
		{Protocol: "rudp", PacketsSent: 10},
		{Protocol: "tcp", PacketsSent: 5},
	}}

	server := testServer(results)
	defer server.Close()

	response, err := http.Get(server.URL + "/reports?protocol=rudp")
	require.NoError(t, err)
	defer func() { _ = response.Body.Close() }()

	var listed []*common.TransferReport
	require.NoError(t, json.NewDecoder(response.Body).Decode(&listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "rudp", listed[0].Protocol)
}

func TestReports_SummaryUnconfigured(t *testing.T) {
	server := testServer(&fakeResults{})
	defer server.Close()

	response, err := http.Get(server.URL + "/reports/summary")
	require.NoError(t, err)
	defer func() { _ = response.Body.Close() }()

	assert.Equal(t, 503, response.StatusCode)
}

func TestReports_MethodNotAllowed(t *testing.T) {
	server := testServer(&fakeResults{})
	defer server.Close()

	response, err := http.Post(server.URL+"/reports", "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = response.Body.Close() }()

	assert.Equal(t, 406, response.StatusCode)
}
