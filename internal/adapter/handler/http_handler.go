package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rl1809/pharmacy/internal/core/domain"
	"github.com/rl1809/pharmacy/internal/core/service"
)

type HTTPHandler struct {
	inventory     *service.InventoryService
	prescriptions *service.PrescriptionService
	logger        *zap.Logger
}

func NewHTTPHandler(inventory *service.InventoryService, prescriptions *service.PrescriptionService, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{inventory: inventory, prescriptions: prescriptions, logger: logger}
}

type restockRequest struct {
	ID    string `json:"id"`
	Stock *int   `json:"stock"`
}

// Register mounts the medicine and prescription routes. The group is
// expected to run behind Authenticate.
func (h *HTTPHandler) Register(r gin.IRouter) {
	med := r.Group("/medicine")
	med.GET("/viewall", h.ListMedicines)
	med.GET("/detail/:id", h.GetMedicine)
	med.POST("/create", h.CreateMedicine)
	med.POST("/restock", h.RestockMedicine)
	med.POST("/delete/:id", h.DeleteMedicine)

	rx := r.Group("/prescription")
	rx.GET("/viewall", h.ListPrescriptions)
	rx.GET("/detail/:id", h.GetPrescription)
	rx.POST("/create", h.CreatePrescription)
	rx.POST("/update/:id", h.UpdatePrescription)
	rx.DELETE("/delete/:id", h.CancelPrescription)
	rx.POST("/process/:id", h.ProcessPrescription)
	rx.POST("/pays/:id", h.PayPrescription)
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	respond(c, http.StatusOK, "ok", nil)
}

func (h *HTTPHandler) caller(c *gin.Context) domain.Principal {
	p, _ := principalFrom(c.Request.Context())
	return p
}

func (h *HTTPHandler) bind(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		abortWith(c, http.StatusBadRequest, "Invalid JSON format")
		return false
	}
	return true
}

func (h *HTTPHandler) ListMedicines(c *gin.Context) {
	meds, err := h.inventory.ListMedicines(c.Request.Context(), h.caller(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Successfully retrieved active medicines", gin.H{"medicines": meds})
}

func (h *HTTPHandler) GetMedicine(c *gin.Context) {
	med, err := h.inventory.GetMedicine(c.Request.Context(), h.caller(c), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Successfully retrieved medicine details", med)
}

func (h *HTTPHandler) CreateMedicine(c *gin.Context) {
	var req domain.NewMedicine
	if !h.bind(c, &req) {
		return
	}

	med, err := h.inventory.CreateMedicine(c.Request.Context(), h.caller(c), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusCreated, "Medicine created successfully", med)
}

func (h *HTTPHandler) RestockMedicine(c *gin.Context) {
	var req restockRequest
	if !h.bind(c, &req) {
		return
	}

	med, err := h.inventory.Restock(c.Request.Context(), h.caller(c), req.ID, req.Stock)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Stock updated successfully", med)
}

func (h *HTTPHandler) DeleteMedicine(c *gin.Context) {
	if err := h.inventory.DeleteMedicine(c.Request.Context(), h.caller(c), c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Medicine deleted successfully", nil)
}

func (h *HTTPHandler) ListPrescriptions(c *gin.Context) {
	list, err := h.prescriptions.List(c.Request.Context(), h.caller(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Successfully retrieved all prescriptions", gin.H{"prescriptions": list})
}

func (h *HTTPHandler) GetPrescription(c *gin.Context) {
	p, err := h.prescriptions.Get(c.Request.Context(), h.caller(c), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Successfully retrieved prescription details", p)
}

func (h *HTTPHandler) CreatePrescription(c *gin.Context) {
	var req service.PrescriptionInput
	if !h.bind(c, &req) {
		return
	}

	p, err := h.prescriptions.Create(c.Request.Context(), h.caller(c), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusCreated, "Prescription created successfully", p)
}

func (h *HTTPHandler) UpdatePrescription(c *gin.Context) {
	var req service.PrescriptionInput
	if !h.bind(c, &req) {
		return
	}

	p, err := h.prescriptions.Update(c.Request.Context(), h.caller(c), c.Param("id"), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Prescription updated successfully", p)
}

func (h *HTTPHandler) CancelPrescription(c *gin.Context) {
	id := c.Param("id")
	if err := h.prescriptions.Cancel(c.Request.Context(), h.caller(c), id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, fmt.Sprintf("Prescription %s cancelled and deleted successfully.", id), nil)
}

func (h *HTTPHandler) ProcessPrescription(c *gin.Context) {
	res, err := h.prescriptions.Process(c.Request.Context(), h.caller(c), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Prescription processed successfully.", res)
}

func (h *HTTPHandler) PayPrescription(c *gin.Context) {
	payment, err := h.prescriptions.Pay(c.Request.Context(), h.caller(c), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Prescription paid successfully.", gin.H{"payment": payment})
}
