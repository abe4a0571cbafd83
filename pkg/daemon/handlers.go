package daemon

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/multimetro/mip/pkg/config"
	"github.com/multimetro/mip/pkg/imagestore"
	"github.com/multimetro/mip/pkg/mipfile"
	"github.com/multimetro/mip/pkg/model"
	"github.com/multimetro/mip/pkg/version"
	"github.com/multimetro/mip/pkg/workflow"
)

// maxImageBytes bounds the board photo upload size.
const maxImageBytes = 32 << 20

func abortBadRequest(c *gin.Context, err error) {
	c.IndentedJSON(http.StatusBadRequest, err.Error())
	_ = c.AbortWithError(http.StatusBadRequest, err)
}

func abortConflict(c *gin.Context, err error) {
	c.IndentedJSON(http.StatusConflict, err.Error())
	_ = c.AbortWithError(http.StatusConflict, err)
}

func abortInternal(c *gin.Context, err error) {
	c.IndentedJSON(http.StatusInternalServerError, err.Error())
	_ = c.AbortWithError(http.StatusInternalServerError, err)
}

// abortWorkflowError maps controller failures onto HTTP statuses: state
// guards are conflicts, validation problems are bad requests.
func abortWorkflowError(c *gin.Context, err error) {
	switch err.(type) {
	case *workflow.StateError:
		abortConflict(c, err)
	case *model.ValidationError:
		abortBadRequest(c, err)
	default:
		abortInternal(c, err)
	}
}

// StatusResponse is the session-wide snapshot served at /status.
type StatusResponse struct {
	SessionID string            `json:"session_id"`
	State     string            `json:"state"`
	StateName string            `json:"state_name"`
	Project   *ProjectSummary   `json:"project,omitempty"`
	Progress  workflow.Progress `json:"progress"`
	Version   string            `json:"version"`
}

// ProjectSummary describes the open project without its points or image.
type ProjectSummary struct {
	Name             string      `json:"name"`
	BoardModel       string      `json:"board_model"`
	Description      string      `json:"description,omitempty"`
	FullyFunctional  bool        `json:"fully_functional"`
	TolerancePercent float64     `json:"tolerance_percent"`
	HasImage         bool        `json:"has_image"`
	ImageWidth       int         `json:"image_width,omitempty"`
	ImageHeight      int         `json:"image_height,omitempty"`
	Stats            model.Stats `json:"stats"`
	Path             string      `json:"path,omitempty"`
}

func (s *Server) summary() *ProjectSummary {
	p := s.ctrl.Project()
	if p == nil {
		return nil
	}
	img, w, h := p.Image()
	s.mu.Lock()
	path := s.projectPath
	s.mu.Unlock()
	return &ProjectSummary{
		Name:             p.Name(),
		BoardModel:       p.BoardModel(),
		Description:      p.Description(),
		FullyFunctional:  p.IsFullyFunctional(),
		TolerancePercent: p.TolerancePercent(),
		HasImage:         len(img) > 0,
		ImageWidth:       w,
		ImageHeight:      h,
		Stats:            p.Stats(),
		Path:             path,
	}
}

func (s *Server) getStatus(c *gin.Context) {
	st := s.ctrl.State()
	c.IndentedJSON(http.StatusOK, StatusResponse{
		SessionID: s.sessionID,
		State:     string(st),
		StateName: st.DisplayName(),
		Project:   s.summary(),
		Progress:  s.ctrl.Progress(),
		Version:   version.Version,
	})
}

type StateResponse struct {
	State     string                `json:"state"`
	StateName string                `json:"state_name"`
	Previous  string                `json:"previous,omitempty"`
	History   []workflow.Transition `json:"history,omitempty"`
}

func (s *Server) getState(c *gin.Context) {
	st := s.ctrl.State()
	resp := StateResponse{
		State:     string(st),
		StateName: st.DisplayName(),
		Previous:  string(s.ctrl.Previous()),
	}
	if c.Query("history") != "" {
		resp.History = s.ctrl.History(10)
	}
	c.IndentedJSON(http.StatusOK, resp)
}

func (s *Server) postTransition(c *gin.Context) {
	var req struct {
		State string `json:"state"`
	}
	if err := c.BindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}

	to := workflow.State(req.State)
	if !to.Valid() {
		abortBadRequest(c, fmt.Errorf("unknown state %q", req.State))
		return
	}

	if err := s.ctrl.TransitionTo(to); err != nil {
		abortWorkflowError(c, err)
		return
	}

	logrus.Infof("transitioned to %s", to.DisplayName())
	c.IndentedJSON(http.StatusOK, fmt.Sprintf("now in %s", to.DisplayName()))
}

func (s *Server) createProject(c *gin.Context) {
	var req struct {
		Name       string `json:"name"`
		BoardModel string `json:"board_model"`
	}
	if err := c.BindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}
	if req.Name == "" {
		abortBadRequest(c, fmt.Errorf("project name must not be empty"))
		return
	}

	if _, err := s.ctrl.CreateProject(req.Name, req.BoardModel); err != nil {
		abortWorkflowError(c, err)
		return
	}

	s.mu.Lock()
	s.projectPath = ""
	s.mu.Unlock()

	logrus.Infof("created project %q", req.Name)
	c.IndentedJSON(http.StatusCreated, s.summary())
}

func (s *Server) getProject(c *gin.Context) {
	sum := s.summary()
	if sum == nil {
		abortConflict(c, fmt.Errorf("no project open"))
		return
	}
	c.IndentedJSON(http.StatusOK, sum)
}

func (s *Server) loadProject(c *gin.Context) {
	var req struct {
		Path string `json:"path"`
	}
	if err := c.BindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}

	p, err := mipfile.LoadFile(req.Path)
	if err != nil {
		switch err.(type) {
		case *mipfile.FormatError, *mipfile.CorruptError:
			abortBadRequest(c, err)
		default:
			abortInternal(c, err)
		}
		return
	}

	if err := s.ctrl.LoadProject(p); err != nil {
		abortWorkflowError(c, err)
		return
	}

	s.mu.Lock()
	s.projectPath = req.Path
	s.mu.Unlock()

	logrus.Infof("loaded project %q from %s", p.Name(), req.Path)
	c.IndentedJSON(http.StatusOK, s.summary())
}

func (s *Server) saveProject(c *gin.Context) {
	var req struct {
		Path string `json:"path"`
	}
	if err := c.BindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}

	p := s.ctrl.Project()
	if p == nil {
		abortConflict(c, fmt.Errorf("no project open"))
		return
	}

	s.mu.Lock()
	path := req.Path
	if path == "" {
		path = s.projectPath
	}
	s.mu.Unlock()
	if path == "" {
		abortBadRequest(c, fmt.Errorf("no save path: project was never saved, provide one"))
		return
	}

	if err := mipfile.SaveFile(p, path); err != nil {
		abortInternal(c, err)
		return
	}

	s.mu.Lock()
	s.projectPath = path
	s.mu.Unlock()

	logrus.Infof("saved project %q to %s", p.Name(), path)
	c.IndentedJSON(http.StatusOK, path)
}

func (s *Server) closeProject(c *gin.Context) {
	s.ctrl.CloseProject()
	s.mu.Lock()
	s.projectPath = ""
	s.mu.Unlock()
	c.IndentedJSON(http.StatusOK, "project closed")
}

func (s *Server) getProjectInfo(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		abortBadRequest(c, fmt.Errorf("missing path query parameter"))
		return
	}
	info, err := mipfile.ReadInfo(path)
	if err != nil {
		switch err.(type) {
		case *mipfile.FormatError, *mipfile.CorruptError:
			abortBadRequest(c, err)
		default:
			abortInternal(c, err)
		}
		return
	}
	c.IndentedJSON(http.StatusOK, info)
}

// exportProject streams the open project as plain JSON (container image
// omitted), for diffing and external tooling.
func (s *Server) exportProject(c *gin.Context) {
	p := s.ctrl.Project()
	if p == nil {
		abortConflict(c, fmt.Errorf("no project open"))
		return
	}

	var buf bytes.Buffer
	if err := mipfile.Save(p, &buf); err != nil {
		abortInternal(c, err)
		return
	}

	c.Header("Content-Type", "application/json")
	if err := mipfile.ExportJSON(&buf, c.Writer); err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
	}
}

func (s *Server) setImage(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImageBytes+1))
	if err != nil {
		abortBadRequest(c, err)
		return
	}
	if len(data) > maxImageBytes {
		abortBadRequest(c, fmt.Errorf("image exceeds %d bytes", maxImageBytes))
		return
	}

	img, err := imagestore.Decode(data)
	if err != nil {
		abortBadRequest(c, err)
		return
	}

	if err := s.ctrl.SetImage(img.Data, img.Width, img.Height); err != nil {
		abortWorkflowError(c, err)
		return
	}

	logrus.Infof("attached %s board photo (%dx%d)", img.Format, img.Width, img.Height)
	c.IndentedJSON(http.StatusOK, fmt.Sprintf("attached %dx%d %s image", img.Width, img.Height, img.Format))
}

func (s *Server) setTolerance(c *gin.Context) {
	var t float64
	if err := c.BindJSON(&t); err != nil {
		abortBadRequest(c, err)
		return
	}

	if err := s.ctrl.SetTolerance(t); err != nil {
		abortWorkflowError(c, err)
		return
	}

	logrus.Infof("set tolerance to %.2f%%", t)
	c.IndentedJSON(http.StatusOK, fmt.Sprintf("tolerance set to %.2f%%", t))
}

func (s *Server) listPoints(c *gin.Context) {
	p := s.ctrl.Project()
	if p == nil {
		abortConflict(c, fmt.Errorf("no project open"))
		return
	}
	c.IndentedJSON(http.StatusOK, p.Points())
}

func (s *Server) addPoint(c *gin.Context) {
	var pt model.Point
	if err := c.BindJSON(&pt); err != nil {
		abortBadRequest(c, err)
		return
	}

	id, err := s.ctrl.AddPoint(&pt)
	if err != nil {
		abortWorkflowError(c, err)
		return
	}

	logrus.Infof("added point %d at (%d, %d)", id, pt.X, pt.Y)
	c.IndentedJSON(http.StatusCreated, s.mustPoint(id))
}

func (s *Server) getPoint(c *gin.Context) {
	id, ok := pointIDParam(c)
	if !ok {
		return
	}
	p := s.ctrl.Project()
	if p == nil {
		abortConflict(c, fmt.Errorf("no project open"))
		return
	}
	pt := p.Point(id)
	if pt == nil {
		c.IndentedJSON(http.StatusNotFound, fmt.Sprintf("no point with id %d", id))
		return
	}
	c.IndentedJSON(http.StatusOK, pt)
}

// pointPatch carries a partial point update. Only non-nil fields are
// applied; measured values and timestamps are controller-owned and cannot
// be patched from the API.
type pointPatch struct {
	X             *int         `json:"x"`
	Y             *int         `json:"y"`
	Shape         *model.Shape `json:"shape"`
	Radius        *int         `json:"radius"`
	Width         *int         `json:"width"`
	Height        *int         `json:"height"`
	Name          *string      `json:"name"`
	Description   *string      `json:"description"`
	ComponentType *string      `json:"component_type"`
	ExpectedValue *string      `json:"expected_value"`
}

func (s *Server) updatePoint(c *gin.Context) {
	id, ok := pointIDParam(c)
	if !ok {
		return
	}

	var patch pointPatch
	if err := c.BindJSON(&patch); err != nil {
		abortBadRequest(c, err)
		return
	}

	err := s.ctrl.UpdatePoint(id, func(pt *model.Point) {
		if patch.X != nil {
			pt.X = *patch.X
		}
		if patch.Y != nil {
			pt.Y = *patch.Y
		}
		if patch.Shape != nil {
			pt.Shape = *patch.Shape
		}
		if patch.Radius != nil {
			pt.Radius = *patch.Radius
		}
		if patch.Width != nil {
			pt.Width = *patch.Width
		}
		if patch.Height != nil {
			pt.Height = *patch.Height
		}
		if patch.Name != nil {
			pt.Name = *patch.Name
		}
		if patch.Description != nil {
			pt.Description = *patch.Description
		}
		if patch.ComponentType != nil {
			pt.ComponentType = *patch.ComponentType
		}
		if patch.ExpectedValue != nil {
			pt.ExpectedValue = *patch.ExpectedValue
		}
	})
	if err != nil {
		abortWorkflowError(c, err)
		return
	}

	c.IndentedJSON(http.StatusOK, s.mustPoint(id))
}

func (s *Server) removePoint(c *gin.Context) {
	id, ok := pointIDParam(c)
	if !ok {
		return
	}

	if err := s.ctrl.RemovePoint(id); err != nil {
		abortWorkflowError(c, err)
		return
	}

	logrus.Infof("removed point %d", id)
	c.IndentedJSON(http.StatusOK, fmt.Sprintf("removed point %d", id))
}

func (s *Server) mustPoint(id int) *model.Point {
	if p := s.ctrl.Project(); p != nil {
		return p.Point(id)
	}
	return nil
}

func (s *Server) measurePoint(c *gin.Context) {
	var req struct {
		ID   int    `json:"id"`
		Role string `json:"role"`
	}
	if err := c.BindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}

	role := model.Role(req.Role)
	if !model.ValidRole(role) {
		abortBadRequest(c, fmt.Errorf("unknown role %q", req.Role))
		return
	}

	ctx, done, err := s.beginMeasure(c.Request.Context())
	if err != nil {
		abortConflict(c, err)
		return
	}
	defer done()

	reading, err := s.ctrl.MeasurePoint(ctx, req.ID, role)
	if err != nil {
		abortWorkflowError(c, err)
		return
	}

	c.IndentedJSON(http.StatusOK, reading)
}

func (s *Server) measureAll(c *gin.Context) {
	var req struct {
		Role string `json:"role"`
	}
	if err := c.BindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}

	role := model.Role(req.Role)
	if !model.ValidRole(role) {
		abortBadRequest(c, fmt.Errorf("unknown role %q", req.Role))
		return
	}

	ctx, done, err := s.beginMeasure(c.Request.Context())
	if err != nil {
		abortConflict(c, err)
		return
	}
	defer done()

	n, err := s.ctrl.MeasureAll(ctx, role)
	if err != nil {
		c.IndentedJSON(http.StatusBadGateway, gin.H{
			"measured": n,
			"error":    err.Error(),
		})
		_ = c.AbortWithError(http.StatusBadGateway, err)
		return
	}

	logrus.Infof("measured %d %s points", n, role)
	c.IndentedJSON(http.StatusOK, gin.H{"measured": n})
}

func (s *Server) cancelMeasurement(c *gin.Context) {
	s.mu.Lock()
	cancel := s.cancelMeasure
	s.mu.Unlock()

	if cancel == nil {
		c.IndentedJSON(http.StatusOK, "no measurement in progress")
		return
	}
	cancel()
	logrus.Info("measurement canceled")
	c.IndentedJSON(http.StatusOK, "measurement canceled")
}

func (s *Server) getReport(c *gin.Context) {
	if c.Query("refresh") != "" {
		rep, err := s.ctrl.RefreshReport()
		if err != nil {
			abortWorkflowError(c, err)
			return
		}
		c.IndentedJSON(http.StatusOK, rep)
		return
	}

	rep := s.ctrl.Report()
	if rep == nil {
		c.IndentedJSON(http.StatusNotFound, "no comparison report available")
		return
	}
	c.IndentedJSON(http.StatusOK, rep)
}

// streamEvents serves server-sent events for state changes and measured
// points until the client disconnects.
func (s *Server) streamEvents(c *gin.Context) {
	ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(ch)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(_ io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (s *Server) getConfig(c *gin.Context) {
	fc, err := config.NewRawFileConfigFromConfig(s.conf)
	if err != nil {
		abortInternal(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fc)
}

func (s *Server) setAutosaveSchedule(c *gin.Context) {
	var expr string
	if err := c.BindJSON(&expr); err != nil {
		abortBadRequest(c, err)
		return
	}

	if err := s.autosave.Schedule(expr); err != nil {
		abortBadRequest(c, err)
		return
	}

	s.conf.SetAutosaveSchedule(expr)
	if err := s.conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		abortInternal(c, err)
		return
	}

	if expr == "" {
		logrus.Info("autosave disabled")
		c.IndentedJSON(http.StatusOK, "autosave disabled")
		return
	}
	logrus.Infof("autosave schedule set to %q", expr)
	c.IndentedJSON(http.StatusOK, fmt.Sprintf("autosave schedule set to %q", expr))
}

func (s *Server) setStrictCompare(c *gin.Context) {
	var b bool
	if err := c.BindJSON(&b); err != nil {
		abortBadRequest(c, err)
		return
	}

	s.ctrl.SetStrict(b)
	s.conf.SetStrictCompare(b)
	if err := s.conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		abortInternal(c, err)
		return
	}

	logrus.Infof("strict compare set to %t", b)
	c.IndentedJSON(http.StatusOK, fmt.Sprintf("strict compare set to %t", b))
}

func (s *Server) getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}
