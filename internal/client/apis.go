package client

import (
	"encoding/json"
	"fmt"
	"strconv"

	pkgerrors "github.com/pkg/errors"

	"github.com/multimetro/mip/pkg/compare"
	"github.com/multimetro/mip/pkg/config"
	"github.com/multimetro/mip/pkg/daemon"
	"github.com/multimetro/mip/pkg/meter"
	"github.com/multimetro/mip/pkg/mipfile"
	"github.com/multimetro/mip/pkg/model"
)

func (c *Client) GetStatus() (*daemon.StatusResponse, error) {
	resp, err := c.Get("/status")
	if err != nil {
		return nil, err
	}
	ret := &daemon.StatusResponse{}
	if err := json.Unmarshal([]byte(resp), ret); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal status %q", resp)
	}
	return ret, nil
}

func (c *Client) GetState() (*daemon.StateResponse, error) {
	resp, err := c.Get("/state?history=1")
	if err != nil {
		return nil, err
	}
	ret := &daemon.StateResponse{}
	if err := json.Unmarshal([]byte(resp), ret); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal state %q", resp)
	}
	return ret, nil
}

func (c *Client) Transition(state string) (string, error) {
	resp, err := c.postJSON("/transition", map[string]string{"state": state})
	if err != nil {
		return "", err
	}
	return parseStringResponse(resp)
}

func (c *Client) CreateProject(name, boardModel string) (*daemon.ProjectSummary, error) {
	resp, err := c.postJSON("/project", map[string]string{"name": name, "board_model": boardModel})
	if err != nil {
		return nil, err
	}
	ret := &daemon.ProjectSummary{}
	if err := json.Unmarshal([]byte(resp), ret); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal project %q", resp)
	}
	return ret, nil
}

func (c *Client) GetProject() (*daemon.ProjectSummary, error) {
	resp, err := c.Get("/project")
	if err != nil {
		return nil, err
	}
	ret := &daemon.ProjectSummary{}
	if err := json.Unmarshal([]byte(resp), ret); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal project %q", resp)
	}
	return ret, nil
}

func (c *Client) LoadProject(path string) (*daemon.ProjectSummary, error) {
	resp, err := c.postJSON("/project/load", map[string]string{"path": path})
	if err != nil {
		return nil, err
	}
	ret := &daemon.ProjectSummary{}
	if err := json.Unmarshal([]byte(resp), ret); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal project %q", resp)
	}
	return ret, nil
}

// SaveProject persists the open project. An empty path reuses the last
// load/save location.
func (c *Client) SaveProject(path string) (string, error) {
	resp, err := c.postJSON("/project/save", map[string]string{"path": path})
	if err != nil {
		return "", err
	}
	return parseStringResponse(resp)
}

func (c *Client) CloseProject() (string, error) {
	resp, err := c.Post("/project/close", "")
	if err != nil {
		return "", err
	}
	return parseStringResponse(resp)
}

func (c *Client) GetProjectInfo(path string) (*mipfile.Info, error) {
	resp, err := c.Get("/project/info?path=" + path)
	if err != nil {
		return nil, err
	}
	ret := &mipfile.Info{}
	if err := json.Unmarshal([]byte(resp), ret); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal info %q", resp)
	}
	return ret, nil
}

func (c *Client) ExportProject() (string, error) {
	return c.Get("/project/export")
}

func (c *Client) SetImage(data []byte) (string, error) {
	resp, err := c.Put("/project/image", string(data))
	if err != nil {
		return "", err
	}
	return parseStringResponse(resp)
}

func (c *Client) SetTolerance(percent float64) (string, error) {
	resp, err := c.Put("/tolerance", strconv.FormatFloat(percent, 'f', -1, 64))
	if err != nil {
		return "", err
	}
	return parseStringResponse(resp)
}

func (c *Client) ListPoints() ([]*model.Point, error) {
	resp, err := c.Get("/points")
	if err != nil {
		return nil, err
	}
	var ret []*model.Point
	if err := json.Unmarshal([]byte(resp), &ret); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal points %q", resp)
	}
	return ret, nil
}

func (c *Client) AddPoint(pt *model.Point) (*model.Point, error) {
	resp, err := c.postJSON("/points", pt)
	if err != nil {
		return nil, err
	}
	ret := &model.Point{}
	if err := json.Unmarshal([]byte(resp), ret); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal point %q", resp)
	}
	return ret, nil
}

// UpdatePoint patches the fields present in patch; the rest of the point is
// left untouched.
func (c *Client) UpdatePoint(id int, patch map[string]any) (*model.Point, error) {
	b, err := json.Marshal(patch)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to marshal patch")
	}
	resp, err := c.Put(fmt.Sprintf("/points/%d", id), string(b))
	if err != nil {
		return nil, err
	}
	ret := &model.Point{}
	if err := json.Unmarshal([]byte(resp), ret); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal point %q", resp)
	}
	return ret, nil
}

func (c *Client) RemovePoint(id int) (string, error) {
	resp, err := c.Delete(fmt.Sprintf("/points/%d", id))
	if err != nil {
		return "", err
	}
	return parseStringResponse(resp)
}

func (c *Client) MeasurePoint(id int, role string) (*meter.Reading, error) {
	resp, err := c.postJSON("/measure/point", map[string]any{"id": id, "role": role})
	if err != nil {
		return nil, err
	}
	ret := &meter.Reading{}
	if err := json.Unmarshal([]byte(resp), ret); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal reading %q", resp)
	}
	return ret, nil
}

func (c *Client) MeasureAll(role string) (int, error) {
	resp, err := c.postJSON("/measure/all", map[string]string{"role": role})
	if err != nil {
		return 0, err
	}
	var ret struct {
		Measured int `json:"measured"`
	}
	if err := json.Unmarshal([]byte(resp), &ret); err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to unmarshal result %q", resp)
	}
	return ret.Measured, nil
}

func (c *Client) CancelMeasurement() (string, error) {
	resp, err := c.Post("/measure/cancel", "")
	if err != nil {
		return "", err
	}
	return parseStringResponse(resp)
}

func (c *Client) GetReport(refresh bool) (*compare.Report, error) {
	path := "/report"
	if refresh {
		path += "?refresh=1"
	}
	resp, err := c.Get(path)
	if err != nil {
		return nil, err
	}
	ret := &compare.Report{}
	if err := json.Unmarshal([]byte(resp), ret); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal report %q", resp)
	}
	return ret, nil
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	resp, err := c.Get("/config")
	if err != nil {
		return nil, err
	}
	ret := &config.RawFileConfig{}
	if err := json.Unmarshal([]byte(resp), ret); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal config %q", resp)
	}
	return ret, nil
}

func (c *Client) SetAutosaveSchedule(expr string) (string, error) {
	b, _ := json.Marshal(expr)
	resp, err := c.Put("/autosave-schedule", string(b))
	if err != nil {
		return "", err
	}
	return parseStringResponse(resp)
}

func (c *Client) SetStrictCompare(enabled bool) (string, error) {
	resp, err := c.Put("/strict-compare", strconv.FormatBool(enabled))
	if err != nil {
		return "", err
	}
	return parseStringResponse(resp)
}

func (c *Client) GetVersion() (string, error) {
	resp, err := c.Get("/version")
	if err != nil {
		return "", err
	}
	return parseStringResponse(resp)
}

func (c *Client) postJSON(path string, body any) (string, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return "", pkgerrors.Wrap(err, "failed to marshal request body")
	}
	return c.Post(path, string(b))
}

// parseStringResponse unquotes a JSON string payload; plain text passes
// through untouched.
func parseStringResponse(resp string) (string, error) {
	var s string
	if err := json.Unmarshal([]byte(resp), &s); err != nil {
		return resp, nil
	}
	return s, nil
}
