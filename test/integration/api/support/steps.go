package support

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/labelscan/internal/records"
	"github.com/MeKo-Tech/labelscan/internal/reference"
	"github.com/MeKo-Tech/labelscan/internal/server"
	"github.com/MeKo-Tech/labelscan/internal/testutil"
)

// RegisterSteps binds the API step definitions. current returns the
// context of the running scenario.
func RegisterSteps(sc *godog.ScenarioContext, current func() *APIContext) {
	sc.Step(`^a labelscan server$`, func() error { return nil })
	sc.Step(`^a labelscan server using the "([^"]*)" schema$`, func(name string) error {
		schema, err := records.ParseSchema(name)
		if err != nil {
			return err
		}
		current().Schema = schema
		return nil
	})
	sc.Step(`^the reference lists vendors "([^"]*)" and meanings "([^"]*)"$`, func(vendors, meanings string) error {
		current().Reference = reference.New(splitList(vendors), splitList(meanings))
		return nil
	})
	sc.Step(`^reference checks are strict$`, func() error {
		current().Config.StrictReference = true
		return nil
	})

	sc.Step(`^a label image "([^"]*)" with a QR code "([^"]*)"$`, func(name, content string) error {
		return current().createLabel(name, testutil.Symbol{Content: content, X: 200, Y: 120, Size: 220})
	})
	sc.Step(`^a label image "([^"]*)" stacking a QR code "([^"]*)", a Code 128 "([^"]*)" and a QR code "([^"]*)"$`,
		func(name, top, middle, bottom string) error {
			return current().createLabel(name,
				testutil.Symbol{Content: bottom, X: 250, Y: 300, Size: 150},
				testutil.Symbol{Content: middle, Kind: testutil.KindCode128, X: 40, Y: 170, Size: 400, Height: 100},
				testutil.Symbol{Content: top, X: 40, Y: 10, Size: 140},
			)
		})
	sc.Step(`^a blank label image "([^"]*)"$`, func(name string) error {
		return current().createLabel(name)
	})

	sc.Step(`^I upload "([^"]*)"$`, func(name string) error { return current().upload(name, "") })
	sc.Step(`^I upload "([^"]*)" as "([^"]*)"$`, func(name, format string) error { return current().upload(name, format) })
	sc.Step(`^I post an upload without a file$`, func() error { return current().uploadWithoutFile() })
	sc.Step(`^I fetch the annotated image$`, func() error { return current().fetchStaged("image_url") })
	sc.Step(`^I fetch the staged result$`, func() error { return current().fetchStaged("result_url") })
	sc.Step(`^I request "([^"]*)"$`, func(path string) error { return current().get(path) })

	sc.Step(`^I submit the reviewed barcodes for vendor "([^"]*)" with qty "([^"]*)"$`, func(vendor, qty string) error {
		return current().submitReviewed(vendor, qty, nil)
	})
	sc.Step(`^I submit the reviewed barcodes for vendor "([^"]*)" with meaning "([^"]*)" on barcode (\d+)$`,
		func(vendor, meaning string, order int) error {
			return current().submitReviewed(vendor, "", map[int]string{order: meaning})
		})
	sc.Step(`^I submit an empty table for vendor "([^"]*)"$`, func(vendor string) error {
		return current().submit(map[string]any{"vendor": vendor, "tableData": []any{}})
	})

	sc.Step(`^the response status should be (\d+)$`, func(code int) error { return current().expectStatus(code) })
	sc.Step(`^the response content type should be "([^"]*)"$`, func(ct string) error {
		c := current()
		if got := c.LastHeaders.Get("Content-Type"); !strings.HasPrefix(got, ct) {
			return fmt.Errorf("expected content type %q, got %q", ct, got)
		}
		return nil
	})
	sc.Step(`^the response should contain "([^"]*)"$`, func(text string) error {
		c := current()
		want := strings.ReplaceAll(text, `\t`, "\t")
		if !bytes.Contains(c.LastBody, []byte(want)) {
			return fmt.Errorf("response does not contain %q: %s", text, c.LastBody)
		}
		return nil
	})
	sc.Step(`^the upload should list (\d+) barcodes?$`, func(n int) error {
		up, err := current().upload1()
		if err != nil {
			return err
		}
		if len(up.Barcodes) != n {
			return fmt.Errorf("expected %d barcodes, got %d", n, len(up.Barcodes))
		}
		return nil
	})
	sc.Step(`^barcode (\d+) should read "([^"]*)" as "([^"]*)"$`, func(order int, content, symbology string) error {
		b, err := current().barcode(order)
		if err != nil {
			return err
		}
		if b.Content != content || b.Type != symbology {
			return fmt.Errorf("barcode %d is %s %q, expected %s %q", order, b.Type, b.Content, symbology, content)
		}
		return nil
	})
	sc.Step(`^barcode (\d+) should sit at normalized position ([\d.]+), ([\d.]+)$`, func(order int, x, y float64) error {
		b, err := current().barcode(order)
		if err != nil {
			return err
		}
		if b.NormalizedX != x || b.NormalizedY != y {
			return fmt.Errorf("barcode %d at (%g, %g), expected (%g, %g)", order, b.NormalizedX, b.NormalizedY, x, y)
		}
		return nil
	})
	sc.Step(`^the submission should report revision (\d+)$`, func(rev int) error {
		var resp server.SubmitResponse
		if err := json.Unmarshal(current().LastBody, &resp); err != nil {
			return fmt.Errorf("decoding submit response: %w", err)
		}
		if resp.Revision != rev {
			return fmt.Errorf("expected revision %d, got %d", rev, resp.Revision)
		}
		return nil
	})
	sc.Step(`^the store should hold (\d+) labels? with (\d+) barcodes?$`, func(labels, barcodes int) error {
		return current().expectCounts(map[string]int{"labels": labels, "label_barcodes": barcodes})
	})
	sc.Step(`^the store should hold (\d+) barcode positions?$`, func(n int) error {
		return current().expectCounts(map[string]int{"barcode_positions": n})
	})
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func (c *APIContext) ensureStarted() error {
	if c.HTTPServer != nil {
		return nil
	}
	return c.Start()
}

func (c *APIContext) createLabel(name string, symbols ...testutil.Symbol) error {
	cfg := testutil.DefaultLabelConfig()
	cfg.Symbols = symbols
	img, err := testutil.GenerateLabelImage(cfg)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	c.Images[name] = buf.Bytes()
	return nil
}

func (c *APIContext) do(req *http.Request) error {
	resp, err := c.HTTPServer.Client().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	c.LastStatus = resp.StatusCode
	c.LastBody = body
	c.LastHeaders = resp.Header
	return nil
}

func (c *APIContext) get(path string) error {
	if err := c.ensureStarted(); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, c.URL(path), nil)
	if err != nil {
		return err
	}
	return c.do(req)
}

func (c *APIContext) upload(name, format string) error {
	data, ok := c.Images[name]
	if !ok {
		return fmt.Errorf("no image named %q", name)
	}
	if err := c.ensureStarted(); err != nil {
		return err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", name)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	target := c.URL("/upload")
	if format != "" {
		target += "?format=" + format
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, target, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if err := c.do(req); err != nil {
		return err
	}

	c.LastUpload = nil
	if c.LastStatus != http.StatusOK {
		return nil
	}
	if id := c.LastHeaders.Get("X-Result-ID"); id != "" {
		c.LastResultID = id
		return nil
	}
	var up server.UploadResponse
	if err := json.Unmarshal(c.LastBody, &up); err != nil {
		return fmt.Errorf("decoding upload response: %w", err)
	}
	c.LastUpload = &up
	c.LastResultID = up.ResultID
	return nil
}

func (c *APIContext) uploadWithoutFile() error {
	if err := c.ensureStarted(); err != nil {
		return err
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("note", "no image here"); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, c.URL("/upload"), &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req)
}

func (c *APIContext) upload1() (*server.UploadResponse, error) {
	if c.LastUpload == nil {
		return nil, fmt.Errorf("no successful JSON upload (status %d): %s", c.LastStatus, c.LastBody)
	}
	return c.LastUpload, nil
}

func (c *APIContext) barcode(order int) (server.BarcodeJSON, error) {
	up, err := c.upload1()
	if err != nil {
		return server.BarcodeJSON{}, err
	}
	for _, b := range up.Barcodes {
		if b.Order == order {
			return b, nil
		}
	}
	return server.BarcodeJSON{}, fmt.Errorf("no barcode with order %d", order)
}

func (c *APIContext) fetchStaged(which string) error {
	up, err := c.upload1()
	if err != nil {
		return err
	}
	path := up.ResultURL
	if which == "image_url" {
		path = up.ImageURL
	}
	return c.get(path)
}

// submitReviewed posts the last upload's barcodes back as the reviewed table.
func (c *APIContext) submitReviewed(vendor, qty string, meanings map[int]string) error {
	up, err := c.upload1()
	if err != nil {
		return err
	}
	rows := make([]map[string]any, 0, len(up.Barcodes))
	for _, b := range up.Barcodes {
		rows = append(rows, map[string]any{
			"order":   strconv.Itoa(b.Order),
			"content": b.Content,
			"type":    b.Type,
			"meaning": meanings[b.Order],
			"x":       b.NormalizedX,
			"y":       b.NormalizedY,
		})
	}
	req := map[string]any{"vendor": vendor, "result_id": up.ResultID, "tableData": rows}
	if qty != "" {
		req["qty"] = qty
	}
	return c.submit(req)
}

func (c *APIContext) submit(payload map[string]any) error {
	if err := c.ensureStarted(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, c.URL("/submit"), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *APIContext) expectStatus(code int) error {
	if c.LastStatus != code {
		return fmt.Errorf("expected status %d, got %d: %s", code, c.LastStatus, c.LastBody)
	}
	return nil
}

func (c *APIContext) expectCounts(want map[string]int) error {
	if err := c.ensureStarted(); err != nil {
		return err
	}
	counts, err := c.Store.Counts(context.Background())
	if err != nil {
		return err
	}
	for table, n := range want {
		if counts[table] != n {
			return fmt.Errorf("expected %d rows in %s, got %d", n, table, counts[table])
		}
	}
	return nil
}
