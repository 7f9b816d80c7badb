package rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/KevinKickass/OpenSupMCU/internal/supmcu"
	"github.com/KevinKickass/OpenSupMCU/internal/types"
	"github.com/gin-gonic/gin"
)

type DiscoverRequest struct {
	Address uint16 `json:"address" binding:"required,min=1,max=127"`
	CmdName string `json:"cmd_name"`
	Name    string `json:"name"`
	Poll    bool   `json:"poll"`
}

type WriteTelemetryRequest struct {
	Values []interface{} `json:"values" binding:"required"`
}

type CommandRequest struct {
	Command string `json:"command" binding:"required"`
}

type PollRequest struct {
	IntervalMS int `json:"interval_ms" binding:"omitempty,min=10"`
}

func moduleSummary(def *types.ModuleDefinition) gin.H {
	return gin.H{
		"name":             def.Name,
		"cmd_name":         def.CmdName,
		"address":          def.Address,
		"version":          def.Version,
		"simulatable":      def.Simulatable,
		"supmcu_telemetry": len(def.SupMCUTelemetry),
		"module_telemetry": len(def.ModuleTelemetry),
		"commands":         len(def.Commands),
	}
}

func (s *Server) dispatcher(c *gin.Context) (*supmcu.Dispatcher, bool) {
	d, err := s.lm.DeviceManager().Dispatcher(c.Param("bus"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return d, true
}

// telemetryParams parses :type and :index.
func telemetryParams(c *gin.Context) (types.TelemetryType, int, bool) {
	t, err := types.ParseTelemetryType(c.Param("type"))
	if err != nil {
		badRequest(c, "Invalid telemetry type", err)
		return "", 0, false
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		badRequest(c, "Invalid telemetry index", err)
		return "", 0, false
	}
	return t, index, true
}

// GET /api/v1/buses
func (s *Server) listBuses(c *gin.Context) {
	buses := s.lm.DeviceManager().ListBuses()
	c.JSON(http.StatusOK, gin.H{
		"buses": buses,
		"count": len(buses),
	})
}

// GET /api/v1/buses/:bus/modules
func (s *Server) listModules(c *gin.Context) {
	d, ok := s.dispatcher(c)
	if !ok {
		return
	}
	defs := d.Modules()
	response := make([]gin.H, 0, len(defs))
	for _, def := range defs {
		response = append(response, moduleSummary(def))
	}
	c.JSON(http.StatusOK, gin.H{
		"modules": response,
		"count":   len(response),
	})
}

// GET /api/v1/buses/:bus/modules/:ref
func (s *Server) getModule(c *gin.Context) {
	d, ok := s.dispatcher(c)
	if !ok {
		return
	}
	def, err := d.Resolve(c.Param("ref"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, def)
}

// POST /api/v1/buses/:bus/modules/discover
func (s *Server) discoverModule(c *gin.Context) {
	var req DiscoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	bus := c.Param("bus")
	manager := s.lm.DeviceManager()
	def, err := manager.Discover(c.Request.Context(), bus, req.Address, supmcu.ModuleHint{CmdName: req.CmdName, Name: req.Name})
	if err != nil {
		writeError(c, err)
		return
	}

	if req.Poll {
		if err := manager.StartPoller(bus, def.CmdName, s.lm.Config().SupMCU.PollInterval); err != nil {
			writeError(c, err)
			return
		}
	}

	c.JSON(http.StatusCreated, def)
}

// GET /api/v1/buses/:bus/modules/:ref/telemetry/:type/:index
func (s *Server) readTelemetry(c *gin.Context) {
	d, ok := s.dispatcher(c)
	if !ok {
		return
	}
	t, index, ok := telemetryParams(c)
	if !ok {
		return
	}

	ref := c.Param("ref")
	item, err := d.TelemetryDefinition(ref, t, index)
	if err != nil {
		writeError(c, err)
		return
	}
	tel, err := d.RequestTelemetry(c.Request.Context(), ref, t, index)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"type":      t,
		"index":     index,
		"name":      item.Name,
		"format":    item.Format,
		"telemetry": tel,
		"timestamp": time.Now().Unix(),
	})
}

// GET /api/v1/buses/:bus/modules/:ref/telemetry/by-name/:name
func (s *Server) readTelemetryByName(c *gin.Context) {
	d, ok := s.dispatcher(c)
	if !ok {
		return
	}
	t, tel, err := d.RequestTelemetryByName(c.Request.Context(), c.Param("ref"), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"type":      t,
		"name":      c.Param("name"),
		"telemetry": tel,
		"timestamp": time.Now().Unix(),
	})
}

// PUT /api/v1/buses/:bus/modules/:ref/telemetry/:type/:index
func (s *Server) writeTelemetry(c *gin.Context) {
	d, ok := s.dispatcher(c)
	if !ok {
		return
	}
	t, index, ok := telemetryParams(c)
	if !ok {
		return
	}
	var req WriteTelemetryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	ref := c.Param("ref")
	item, err := d.TelemetryDefinition(ref, t, index)
	if err != nil {
		writeError(c, err)
		return
	}
	items, err := supmcu.BuildItems(item, req.Values)
	if err != nil {
		badRequest(c, "Invalid telemetry values", err)
		return
	}
	if err := d.SetValues(c.Request.Context(), ref, t, index, items); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Telemetry values written",
		"type":    t,
		"index":   index,
		"values":  supmcu.FormatValues(items),
	})
}

// POST /api/v1/buses/:bus/modules/:ref/commands
func (s *Server) sendCommand(c *gin.Context) {
	d, ok := s.dispatcher(c)
	if !ok {
		return
	}
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	if err := d.SendCommand(c.Request.Context(), c.Param("ref"), req.Command); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"message": "Command sent",
		"command": req.Command,
	})
}

// GET /api/v1/buses/:bus/modules/:ref/latest
func (s *Server) latestSamples(c *gin.Context) {
	d, ok := s.dispatcher(c)
	if !ok {
		return
	}
	def, err := d.Resolve(c.Param("ref"))
	if err != nil {
		writeError(c, err)
		return
	}
	poller, ok := s.lm.DeviceManager().Poller(c.Param("bus"), def.CmdName)
	if !ok {
		c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodeNotPolled, "Module is not polled", def.CmdName))
		return
	}

	samples := make([]supmcu.Sample, 0, len(def.ModuleTelemetry))
	for _, idx := range def.SortedIndices(types.TelemetryModule) {
		if sample, ok := poller.LastSample(types.TelemetryModule, idx); ok {
			samples = append(samples, sample)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"module":  def.CmdName,
		"samples": samples,
	})
}

// POST /api/v1/buses/:bus/modules/:ref/poll
func (s *Server) startPolling(c *gin.Context) {
	var req PollRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body", err)
			return
		}
	}
	interval := s.lm.Config().SupMCU.PollInterval
	if req.IntervalMS > 0 {
		interval = time.Duration(req.IntervalMS) * time.Millisecond
	}
	if err := s.lm.DeviceManager().StartPoller(c.Param("bus"), c.Param("ref"), interval); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"message":  "Polling started",
		"interval": interval.String(),
	})
}
