// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/mail-sms-gateway/pkg/apiresponses"
	"github.com/telekom/mail-sms-gateway/pkg/mail"
	"github.com/telekom/mail-sms-gateway/pkg/sms"
	"github.com/telekom/mail-sms-gateway/pkg/system"
)

type createSenderRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"email_pass" binding:"required"`
	Host     string `json:"email_host" binding:"required"`
	Port     int    `json:"email_port"`
}

type createCarrierRequest struct {
	Name       string `json:"wireless_carrier" binding:"required"`
	Domain     string `json:"domain" binding:"required"`
	Multimedia *bool  `json:"allow_multimedia" binding:"required"`
}

type sendEmailRequest struct {
	From     string `json:"email" binding:"required"`
	To       string `json:"to_email" binding:"required"`
	Subject  string `json:"email_subject"`
	Body     string `json:"email_body" binding:"required"`
	Count    int    `json:"message_count"`
	BodyKind string `json:"body_kind"`
}

type sendFromAllRequest struct {
	To      string `json:"to_email" binding:"required"`
	Subject string `json:"email_subject"`
	Body    string `json:"email_body" binding:"required"`
}

type sendSMSRequest struct {
	From       string `json:"from_email" binding:"required"`
	Phone      string `json:"phone_number" binding:"required"`
	Subject    string `json:"subject" binding:"required"`
	Body       string `json:"body" binding:"required"`
	Multimedia *bool  `json:"is_mms" binding:"required"`
	Count      int    `json:"message_count"`
}

type sendSMSFromAllRequest struct {
	Phone   string `json:"phone_number" binding:"required"`
	Subject string `json:"email_subject"`
	Body    string `json:"email_body" binding:"required"`
	// Multimedia defaults to true when omitted.
	Multimedia *bool `json:"is_mime"`
	Reword     bool  `json:"reword"`
	Count      int   `json:"message_count"`
}

// Controller exposes Service under the API group.
type Controller struct {
	service    *Service
	log        *zap.SugaredLogger
	middleware []gin.HandlerFunc
}

func NewController(log *zap.SugaredLogger, service *Service, middleware ...gin.HandlerFunc) *Controller {
	return &Controller{
		service:    service,
		log:        log.Named("gateway-api"),
		middleware: middleware,
	}
}

func (*Controller) BasePath() string {
	return "/"
}

func (gc *Controller) Handlers() []gin.HandlerFunc {
	return gc.middleware
}

func (gc *Controller) Register(rg *gin.RouterGroup) error {
	rg.POST("/connections/initialize", gc.handleInitialize)
	rg.GET("/initialize-email-connections", gc.handleInitialize)
	rg.GET("/connections", gc.handleConnections)

	rg.GET("/senders", gc.handleListSenders)
	rg.POST("/senders", gc.handleCreateSender)

	rg.GET("/carriers", gc.handleListCarriers)
	rg.POST("/carriers", gc.handleCreateCarrier)
	rg.DELETE("/carriers/:id", gc.handleDeleteCarrier)

	rg.POST("/email/send", gc.handleSendEmail)
	rg.POST("/email/send-all", gc.handleSendEmailFromAll)
	rg.POST("/sms/send", gc.handleSendSMS)
	rg.POST("/sms/send-all", gc.handleSendSMSFromAll)
	return nil
}

func (gc *Controller) respondError(c *gin.Context, operation string, err error) {
	switch Classify(err) {
	case KindInvalid:
		apiresponses.RespondBadRequest(c, err.Error())
	case KindNotFound:
		apiresponses.RespondNotFound(c, err.Error())
	case KindConflict:
		apiresponses.RespondConflict(c, err.Error())
	default:
		apiresponses.RespondInternalError(c, operation, err, system.GetReqLogger(c, gc.log))
	}
}

// respondOutcome writes a delivery outcome with the status of its error class.
func (gc *Controller) respondOutcome(c *gin.Context, out mail.Outcome, err error) {
	if err != nil {
		out.Success = false
		out.Message = err.Error()
		kind := Classify(err)
		if kind == KindInternal {
			system.GetReqLogger(c, gc.log).Errorw("Delivery failed", "error", err)
		}
		c.JSON(kind.HTTPStatus(), out)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (gc *Controller) handleInitialize(c *gin.Context) {
	report, err := gc.service.InitializeConnections(c.Request.Context())
	if err != nil {
		gc.respondError(c, "initialize email connections", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"msg":    "Email connections initialized successfully",
		"report": report,
	})
}

func (gc *Controller) handleConnections(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"connections": gc.service.Connections()})
}

func (gc *Controller) handleListSenders(c *gin.Context) {
	senders, err := gc.service.ListSenders(c.Request.Context())
	if err != nil {
		gc.respondError(c, "list senders", err)
		return
	}
	apiresponses.RespondOK(c, gin.H{"emails": senders, "msg": "retrieved emails successfully"})
}

func (gc *Controller) handleCreateSender(c *gin.Context) {
	var req createSenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresponses.RespondBadRequest(c, err.Error())
		return
	}
	sender, err := gc.service.CreateSender(c.Request.Context(), CreateSenderRequest{
		Address: req.Email,
		Secret:  req.Password,
		Host:    req.Host,
		Port:    req.Port,
	})
	if err != nil {
		gc.respondError(c, "create sender", err)
		return
	}
	apiresponses.RespondCreated(c, gin.H{"msg": "Created email successfully", "email": sender})
}

func (gc *Controller) handleListCarriers(c *gin.Context) {
	carriers, err := gc.service.ListCarriers(c.Request.Context())
	if err != nil {
		gc.respondError(c, "list carriers", err)
		return
	}
	apiresponses.RespondOK(c, gin.H{"email_carriers": carriers, "msg": "retrieved email carriers successfully"})
}

func (gc *Controller) handleCreateCarrier(c *gin.Context) {
	var req createCarrierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresponses.RespondBadRequest(c, err.Error())
		return
	}
	carrier, err := gc.service.CreateCarrier(c.Request.Context(), req.Name, req.Domain, *req.Multimedia)
	if err != nil {
		gc.respondError(c, "create carrier", err)
		return
	}
	apiresponses.RespondCreated(c, gin.H{"msg": "Record created successfully", "carrier": carrier})
}

func (gc *Controller) handleDeleteCarrier(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		apiresponses.RespondBadRequest(c, "carrier id must be an integer")
		return
	}
	if err := gc.service.DeleteCarrier(c.Request.Context(), id); err != nil {
		gc.respondError(c, "delete carrier", err)
		return
	}
	apiresponses.RespondOK(c, gin.H{"msg": "Record deleted successfully"})
}

func (gc *Controller) handleSendEmail(c *gin.Context) {
	var req sendEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresponses.RespondBadRequest(c, err.Error())
		return
	}
	out, err := gc.service.Send(c.Request.Context(), mail.Message{
		From:    req.From,
		To:      req.To,
		Subject: req.Subject,
		Body:    req.Body,
		Kind:    mail.BodyKind(req.BodyKind),
		Count:   req.Count,
	})
	gc.respondOutcome(c, out, err)
}

func (gc *Controller) handleSendEmailFromAll(c *gin.Context) {
	var req sendFromAllRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresponses.RespondBadRequest(c, err.Error())
		return
	}
	out, err := gc.service.SendFromAll(c.Request.Context(), req.To, req.Subject, req.Body)
	gc.respondOutcome(c, out, err)
}

func (gc *Controller) handleSendSMS(c *gin.Context) {
	var req sendSMSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresponses.RespondBadRequest(c, err.Error())
		return
	}
	out, err := gc.service.SendSMS(c.Request.Context(), sms.PhoneMessage{
		From:       req.From,
		Phone:      req.Phone,
		Subject:    req.Subject,
		Body:       req.Body,
		Multimedia: *req.Multimedia,
		Count:      req.Count,
	})
	gc.respondOutcome(c, out, err)
}

func (gc *Controller) handleSendSMSFromAll(c *gin.Context) {
	var req sendSMSFromAllRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresponses.RespondBadRequest(c, err.Error())
		return
	}
	multimedia := true
	if req.Multimedia != nil {
		multimedia = *req.Multimedia
	}
	out, err := gc.service.SendSMSFromAll(c.Request.Context(), sms.BroadcastMessage{
		Phone:      req.Phone,
		Subject:    req.Subject,
		Body:       req.Body,
		Multimedia: multimedia,
		Reword:     req.Reword,
		Count:      req.Count,
	})
	gc.respondOutcome(c, out, err)
}
