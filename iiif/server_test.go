package iiif

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/greut/jp2iiif/cache"
	"github.com/greut/jp2iiif/config"
	"github.com/greut/jp2iiif/source"
	"github.com/greut/jp2iiif/transform"
)

// jp2File encodes the few boxes and marker segments needed to read the
// metadata of an image, enum is the enumerated colorspace.
func jp2File(width, height uint32, levels uint8, enum uint32) []byte {
	be16 := func(v uint16) []byte {
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, v)
		return b
	}
	be32 := func(v uint32) []byte {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, v)
		return b
	}
	join := func(parts ...[]byte) []byte {
		return bytes.Join(parts, nil)
	}
	box := func(kind string, payload []byte) []byte {
		return join(be32(uint32(8+len(payload))), []byte(kind), payload)
	}

	signature := []byte{0, 0, 0, 12, 'j', 'P', ' ', ' ', 0x0D, 0x0A, 0x87, 0x0A}
	ftyp := box("ftyp", join([]byte("jp2 "), be32(0), []byte("jp2 ")))
	ihdr := box("ihdr", join(be32(height), be32(width), be16(3), []byte{7, 7, 0, 0}))
	colr := box("colr", join([]byte{1, 0, 0}, be32(enum)))
	siz := join(
		be16(0xFF51), be16(47),
		be16(0), be32(width), be32(height), be32(0), be32(0),
		be32(width), be32(height), be32(0), be32(0),
		be16(3), []byte{7, 1, 1, 7, 1, 1, 7, 1, 1},
	)
	cod := join(be16(0xFF52), be16(12), []byte{0, 0}, be16(1), []byte{1}, []byte{levels, 4, 4, 0, 0})

	return join(signature, ftyp, box("jp2h", join(ihdr, colr)),
		[]byte{0, 0, 0, 0}, []byte("jp2c"), be16(0xFF4F), siz, cod, be16(0xFF90), be16(0xFFD9))
}

type fakeDecoder struct {
	calls int32
	delay time.Duration
	err   error
}

func (d *fakeDecoder) Name() string {
	return "fake"
}

func (d *fakeDecoder) Decode(ctx context.Context, src string, hint transform.DecodeHint) (*transform.Bitmap, error) {
	atomic.AddInt32(&d.calls, 1)
	time.Sleep(d.delay)
	if d.err != nil {
		return nil, d.err
	}
	return &transform.Bitmap{Data: []byte(src), Windowed: true, Scale: hint.Scale}, nil
}

func (d *fakeDecoder) Calls() int {
	return int(atomic.LoadInt32(&d.calls))
}

// fakeFinisher describes the operation instead of producing an image.
type fakeFinisher struct{}

func (fakeFinisher) Finish(bmp *transform.Bitmap, op transform.Operation) ([]byte, error) {
	return []byte(fmt.Sprintf("%dx%d %s %s", op.Width, op.Height, op.Quality, op.Format)), nil
}

type testServer struct {
	*httptest.Server
	server      *Server
	decoder     *fakeDecoder
	infos       *cache.InfoCache
	derivatives string
}

// newServer serves test.jp2 (600x400, color), gray.jp2 (100x100, gray),
// sub/dir.jp2 and broken.jp2.
func newServer(t *testing.T, configure ...func(*config.Config, *Deps)) *testServer {
	t.Helper()

	images := t.TempDir()
	files := map[string][]byte{
		"test.jp2":    jp2File(600, 400, 2, 16),
		"gray.jp2":    jp2File(100, 100, 1, 17),
		"sub/dir.jp2": jp2File(50, 50, 0, 16),
		"broken.jp2":  []byte("this is not a JPEG 2000 file"),
	}
	for name, data := range files {
		path := filepath.Join(images, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	c := config.Default()
	c.Images.Roots = []string{images}
	c.Cache.InfoPath = filepath.Join(t.TempDir(), "info")
	c.Cache.DerivativesPath = filepath.Join(t.TempDir(), "derivatives")

	decoder := &fakeDecoder{}
	deps := Deps{Config: c}
	for _, fn := range configure {
		fn(c, &deps)
	}

	resolver, err := source.NewResolverFromConfig(c.Images)
	if err != nil {
		t.Fatal(err)
	}
	infos, err := cache.NewInfoCache(c.Cache.InfoPath, c.Cache.InfoEntries, nil)
	if err != nil {
		t.Fatal(err)
	}
	derivatives, err := cache.NewDerivativeCache(c.Cache.DerivativesPath, c.ImageOptions(), nil)
	if err != nil {
		t.Fatal(err)
	}

	if deps.Pipeline == nil {
		deps.Pipeline = transform.NewPipeline(decoder, fakeFinisher{}, nil)
	}
	deps.Resolver = resolver
	deps.Infos = infos
	deps.Derivatives = derivatives

	s, err := NewServer(deps)
	if err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return &testServer{ts, s, decoder, infos, c.Cache.DerivativesPath}
}

// get fetches path without following the redirections.
func (ts *testServer) get(t *testing.T, path string, headers ...string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest("GET", ts.URL+path, nil)
	if err != nil {
		log.Fatal(err)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Add(headers[i], headers[i+1])
	}

	client := &http.Client{
		CheckRedirect: func(r *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, body
}

func TestNewServerRequiresComponents(t *testing.T) {
	if _, err := NewServer(Deps{Config: config.Default()}); err == nil {
		t.Error("a server without components should not be built")
	}
}

func TestSingleFlight(t *testing.T) {
	ts := newServer(t)
	ts.decoder.delay = 100 * time.Millisecond

	var wg sync.WaitGroup
	statuses := make([]int, 8)
	for i := range statuses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := http.Get(ts.URL + "/test.jp2/full/full/0/default.jpg")
			if err != nil {
				return
			}
			resp.Body.Close()
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	for i, status := range statuses {
		if status != http.StatusOK {
			t.Errorf("request %d: got %v want %v", i, status, http.StatusOK)
		}
	}
	if calls := ts.decoder.Calls(); calls != 1 {
		t.Errorf("the derivative should be computed once, got %d decodes", calls)
	}
}

func TestMetadataIgnoresDerivativeFlights(t *testing.T) {
	ts := newServer(t)

	// a derivative computation whose key is the identifier itself
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	go ts.server.derivativeGroup.Do("test.jp2", func() (interface{}, error) {
		close(started)
		<-release
		return "test.jp2/full/full/0/default.jpg", nil
	})
	<-started

	meta, _, err := ts.server.metadata("test.jp2")
	if err != nil {
		t.Fatal(err)
	}
	if meta.Width != 600 || meta.Height != 400 {
		t.Errorf("dimensions expected to be 600x400, got %vx%v", meta.Width, meta.Height)
	}

	resp, body := ts.get(t, "/test.jp2/info.json")
	if status := resp.StatusCode; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v (%s)", status, http.StatusOK, body)
	}
}

func TestFailureCache(t *testing.T) {
	now := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := newFailureCache(time.Minute, 2)
	fc.now = func() time.Time { return now }

	boom := errors.New("boom")
	fc.Add("a", boom)

	if err := fc.Get("a"); err != boom {
		t.Errorf("got %v want %v", err, boom)
	}
	if err := fc.Get("b"); err != nil {
		t.Errorf("b never failed, got %v", err)
	}

	now = now.Add(2 * time.Minute)
	if err := fc.Get("a"); err != nil {
		t.Errorf("the failure should have expired, got %v", err)
	}

	disabled := newFailureCache(0, 10)
	disabled.Add("a", boom)
	if err := disabled.Get("a"); err != nil {
		t.Errorf("a disabled cache remembers nothing, got %v", err)
	}
}

func TestBrokenFileIsRemembered(t *testing.T) {
	ts := newServer(t)

	for i := 0; i < 2; i++ {
		resp, _ := ts.get(t, "/broken.jp2/info.json")
		if status := resp.StatusCode; status != http.StatusInternalServerError {
			t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusInternalServerError)
		}
	}
}

func TestPreflight(t *testing.T) {
	ts := newServer(t)

	req, err := http.NewRequest("OPTIONS", ts.URL+"/test.jp2/info.json", nil)
	if err != nil {
		log.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if status := resp.StatusCode; status != http.StatusNoContent {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusNoContent)
	}
	if origin := resp.Header.Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("CORS is missing, got %#v", origin)
	}
}
