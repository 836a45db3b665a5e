package handlers

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/echolog/echolog-server/internal/models"
	"github.com/echolog/echolog-server/internal/security"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const minPasswordLength = 8

// AuthHandler handles user authentication endpoints.
type AuthHandler struct {
	db     *gorm.DB
	secret string
	expiry time.Duration
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(db *gorm.DB, secret string, expiry time.Duration) *AuthHandler {
	return &AuthHandler{db: db, secret: secret, expiry: expiry}
}

// registerRequest defines the request body for user registration.
type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// Register creates a new user account and signs it in.
func (h *AuthHandler) Register(c *gin.Context) {
	var body registerRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	email := strings.ToLower(strings.TrimSpace(body.Email))
	if _, errAddr := mail.ParseAddress(email); errAddr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email"})
		return
	}
	password := strings.TrimSpace(body.Password)
	if len(password) < minPasswordLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password must be at least 8 characters"})
		return
	}

	var exists models.User
	if errCheck := h.db.WithContext(c.Request.Context()).Where("email = ?", email).First(&exists).Error; errCheck == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		return
	}

	hash, errHash := security.HashPassword(password)
	if errHash != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}

	name := strings.TrimSpace(body.Name)
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}
	user := models.User{
		Email:    email,
		Name:     name,
		Password: hash,
		Active:   true,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&user).Error; errCreate != nil {
		log.WithError(errCreate).Error("create user failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create user failed"})
		return
	}
	h.respondWithUserToken(c, http.StatusCreated, user)
}

// loginRequest defines the request body for login.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login authenticates a user and issues a JWT.
func (h *AuthHandler) Login(c *gin.Context) {
	var body loginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	email := strings.ToLower(strings.TrimSpace(body.Email))
	password := strings.TrimSpace(body.Password)
	if email == "" || password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing email or password"})
		return
	}

	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).Where("email = ?", email).First(&user).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	if !user.Active {
		c.JSON(http.StatusForbidden, gin.H{"error": "user disabled"})
		return
	}
	if !security.CheckPassword(user.Password, password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	h.respondWithUserToken(c, http.StatusOK, user)
}

// Verify returns the user behind the bearer token.
func (h *AuthHandler) Verify(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).First(&user, userID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userJSON(user)})
}

// respondWithUserToken signs a token for user and writes it with the profile.
func (h *AuthHandler) respondWithUserToken(c *gin.Context, status int, user models.User) {
	token, errToken := security.GenerateToken(h.secret, user.ID, user.Email, user.Name, h.expiry)
	if errToken != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate token failed"})
		return
	}
	c.JSON(status, gin.H{
		"token": token,
		"user":  userJSON(user),
	})
}

func userJSON(user models.User) gin.H {
	return gin.H{
		"id":      user.ID,
		"name":    user.Name,
		"email":   user.Email,
		"picture": user.Picture,
	}
}
