package feeds

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partsledger/partsledger/internal/model"
	"github.com/partsledger/partsledger/internal/normalize"
)

type fakeSource struct {
	files   map[string]string
	listErr error
}

func (f *fakeSource) List(dir string) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var names []string
	for name := range f.files {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeSource) Fetch(path string) (io.ReadCloser, error) {
	content, ok := f.files[path]
	if !ok {
		return nil, eris.Errorf("no such file %s", path)
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

func (f *fakeSource) Close() error { return nil }

type captureStore struct {
	mu         sync.Mutex
	components map[string]*model.CanonicalComponent
	upsertErr  error
}

func newCaptureStore() *captureStore {
	return &captureStore{components: map[string]*model.CanonicalComponent{}}
}

func (c *captureStore) UpsertComponent(_ context.Context, comp *model.CanonicalComponent) error {
	if c.upsertErr != nil {
		return c.upsertErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components[normalize.CatalogKey(comp.MPN, comp.Manufacturer)] = comp
	return nil
}

func (c *captureStore) GetComponent(_ context.Context, mpn, manufacturer string) (*model.CanonicalComponent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	comp, ok := c.components[normalize.CatalogKey(mpn, manufacturer)]
	if !ok {
		return nil, eris.New("not found")
	}
	return comp, nil
}

const priceFeed = `mpn,manufacturer,description,lifecycle,unit_price,stock_qty,lead_time_days
LM358,Texas Instruments,Dual op-amp,Active,0.45,120000,3
STM32F407VGT6,STMicroelectronics,ARM Cortex-M4 MCU,Active,8.20,4500,21
,,missing mpn row,,1.00,1,1
NE555,TI,Timer,NRND,not-a-price,500,7
`

func TestIngestRun(t *testing.T) {
	src := &fakeSource{files: map[string]string{
		"/feeds/distributor_prices.csv": priceFeed,
		"/feeds/readme.txt":             "not a feed",
	}}
	st := newCaptureStore()

	report, err := NewIngestor(src, st).Run(context.Background(), "/feeds")
	require.NoError(t, err)

	assert.Equal(t, 1, report.Files)
	assert.Equal(t, 3, report.Upserted)
	assert.Equal(t, 1, report.Skipped)

	comp, err := st.GetComponent(context.Background(), "LM358", "Texas Instruments")
	require.NoError(t, err)
	require.NotNil(t, comp.UnitPrice)
	assert.InDelta(t, 0.45, *comp.UnitPrice, 0.001)
	require.NotNil(t, comp.StockQty)
	assert.Equal(t, 120000, *comp.StockQty)
	assert.Equal(t, model.LifecycleActive, comp.Lifecycle)
	assert.Equal(t, "feed:distributor_prices", comp.Source)

	// The bad price parses to a component without pricing, not a skip.
	comp, err = st.GetComponent(context.Background(), "NE555", "TI")
	require.NoError(t, err)
	assert.Nil(t, comp.UnitPrice)
	assert.Equal(t, model.LifecycleNRND, comp.Lifecycle)
}

func TestIngestMissingMPNColumn(t *testing.T) {
	src := &fakeSource{files: map[string]string{
		"/feeds/bad.csv": "sku,price\nA1,2.00\n",
	}}

	_, err := NewIngestor(src, newCaptureStore()).Run(context.Background(), "/feeds")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no mpn column")
}

func TestIngestUpsertFailureStopsRun(t *testing.T) {
	src := &fakeSource{files: map[string]string{
		"/feeds/prices.csv": "mpn,unit_price\nLM358,0.45\n",
	}}
	st := newCaptureStore()
	st.upsertErr = eris.New("db down")

	_, err := NewIngestor(src, st).Run(context.Background(), "/feeds")
	require.Error(t, err)
}

func TestIngestListFailure(t *testing.T) {
	src := &fakeSource{listErr: eris.New("ftp down")}
	_, err := NewIngestor(src, newCaptureStore()).Run(context.Background(), "/feeds")
	require.Error(t, err)
}

func TestFeedName(t *testing.T) {
	assert.Equal(t, "feed:prices", feedName("/drop/prices.csv"))
	assert.Equal(t, "feed:prices", feedName("prices.csv"))
	assert.Equal(t, "feed:prices", feedName("prices"))
}
