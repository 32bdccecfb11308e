package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	apperrors "chatbase_go_backend/internal/errors"
	"chatbase_go_backend/internal/models"
	"chatbase_go_backend/internal/services"
	"chatbase_go_backend/internal/utils/credits"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
)

// SessionCookieName is the HTTP-only cookie mirroring a verified identity.
const SessionCookieName = "chatbase_session"

const sessionCookieMaxAge = 7 * 24 * 60 * 60 // 7 days, in seconds

// Verification errors are fixed here at the throw site; callers match with
// errors.Is, never on message text.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrKeyNotFound  = errors.New("unable to find appropriate key")
)

const jwksRefreshInterval = 10 * time.Minute

// Verifier checks RS256 identity tokens against the provider's JWKS
// endpoint. It is constructed once in main and injected wherever needed;
// nothing reads it from a global.
type Verifier struct {
	domain     string
	httpClient *http.Client

	mu        sync.RWMutex
	certs     map[string]string // kid -> PEM certificate
	fetchedAt time.Time
}

func NewVerifier(domain string) *Verifier {
	return &Verifier{
		domain:     domain,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		certs:      map[string]string{},
	}
}

// Verify parses and validates an identity token, returning its claims.
func (v *Verifier) Verify(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		cert, err := v.pemCertForToken(token)
		if err != nil {
			return nil, err
		}

		return jwt.ParseRSAPublicKeyFromPEM([]byte(cert))
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrTokenInvalid
}

func (v *Verifier) pemCertForToken(token *jwt.Token) (string, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return "", ErrKeyNotFound
	}

	v.mu.RLock()
	cert, ok := v.certs[kid]
	fresh := time.Since(v.fetchedAt) < jwksRefreshInterval
	v.mu.RUnlock()
	if ok && fresh {
		return cert, nil
	}

	if err := v.refreshKeys(); err != nil {
		// Serve a stale key rather than failing every sign-in while the
		// provider is unreachable.
		if ok {
			return cert, nil
		}
		return "", err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	if cert, ok := v.certs[kid]; ok {
		return cert, nil
	}
	return "", ErrKeyNotFound
}

func (v *Verifier) refreshKeys() error {
	resp, err := v.httpClient.Get(fmt.Sprintf("https://%s/.well-known/jwks.json", v.domain))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var jwks = struct {
		Keys []struct {
			Kty string   `json:"kty"`
			Kid string   `json:"kid"`
			Use string   `json:"use"`
			N   string   `json:"n"`
			E   string   `json:"e"`
			X5c []string `json:"x5c"`
		} `json:"keys"`
	}{}

	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return err
	}

	certs := make(map[string]string, len(jwks.Keys))
	for _, key := range jwks.Keys {
		if len(key.X5c) == 0 {
			continue
		}
		certs[key.Kid] = "-----BEGIN CERTIFICATE-----\n" + key.X5c[0] + "\n-----END CERTIFICATE-----"
	}

	v.mu.Lock()
	v.certs = certs
	v.fetchedAt = time.Now()
	v.mu.Unlock()
	return nil
}

func SetupRoutes(r *gin.Engine, verifier *Verifier, userService *services.UserService, secureCookies bool) {
	authGroup := r.Group("/api/auth")
	{
		authGroup.POST("/set-token", setTokenHandler(verifier, userService, secureCookies))
		authGroup.POST("/clear-token", clearTokenHandler(secureCookies))
		authGroup.GET("/user", AuthMiddleware(verifier, userService), getUser)
		authGroup.DELETE("/delete-account", AuthMiddleware(verifier, userService), deleteAccountHandler(userService, secureCookies))
	}
}

// AuthMiddleware verifies the identity token from the Authorization header or
// the session cookie and loads the account into the request context. A
// verification failure denies the request without touching account state.
func AuthMiddleware(verifier *Verifier, userService *services.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := tokenFromRequest(c)
		if err != nil {
			apperrors.HandleError(c, apperrors.NewAuthenticationError(err.Error()))
			c.Abort()
			return
		}

		claims, err := verifier.Verify(tokenString)
		if err != nil {
			apperrors.HandleError(c, apperrors.NewAuthenticationError("invalid identity token"))
			c.Abort()
			return
		}

		authID, email, name, emailVerified := claimsIdentity(claims)
		user, err := userService.EnsureUser(c.Request.Context(), authID, email, name, emailVerified)
		if err != nil {
			apperrors.HandleError(c, err)
			c.Abort()
			return
		}

		c.Set("user", user)
		c.Next()
	}
}

// GetUser pulls the account loaded by AuthMiddleware out of the request
// context.
func GetUser(c *gin.Context) (*models.User, bool) {
	value, exists := c.Get("user")
	if !exists {
		return nil, false
	}
	user, ok := value.(*models.User)
	return user, ok
}

func tokenFromRequest(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", errors.New("invalid authorization header")
		}
		return parts[1], nil
	}

	cookie, err := c.Cookie(SessionCookieName)
	if err != nil || cookie == "" {
		return "", errors.New("authorization required")
	}
	return cookie, nil
}

func claimsIdentity(claims jwt.MapClaims) (authID, email, name string, emailVerified bool) {
	authID, _ = claims["sub"].(string)
	email, _ = claims["email"].(string)
	name, _ = claims["name"].(string)
	emailVerified, _ = claims["email_verified"].(bool)
	return authID, email, name, emailVerified
}

func setTokenHandler(verifier *Verifier, userService *services.UserService, secureCookies bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			apperrors.HandleError(c, apperrors.NewAuthenticationError("bearer token required"))
			return
		}

		claims, err := verifier.Verify(parts[1])
		if err != nil {
			apperrors.HandleError(c, apperrors.NewAuthenticationError("invalid identity token"))
			return
		}

		authID, email, name, emailVerified := claimsIdentity(claims)
		user, err := userService.EnsureUser(c.Request.Context(), authID, email, name, emailVerified)
		if err != nil {
			apperrors.HandleError(c, err)
			return
		}

		c.SetSameSite(http.SameSiteStrictMode)
		c.SetCookie(SessionCookieName, parts[1], sessionCookieMaxAge, "/", "", secureCookies, true)

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"user": gin.H{
				"uid":           user.ID.String(),
				"email":         user.Email,
				"emailVerified": user.EmailVerified,
			},
		})
	}
}

func clearTokenHandler(secureCookies bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.SetSameSite(http.SameSiteStrictMode)
		c.SetCookie(SessionCookieName, "", -1, "/", "", secureCookies, true)
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func getUser(c *gin.Context) {
	user, exists := GetUser(c)
	if !exists {
		apperrors.HandleError(c, apperrors.NewAuthenticationError("user not found in context"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"uid":              user.ID.String(),
		"email":            user.Email,
		"name":             user.Name,
		"emailVerified":    user.EmailVerified,
		"plan":             user.Plan,
		"availableCredits": user.AvailableCredits,
		"usedCredits":      user.UsedCredits,
		"lowBalance":       credits.ShouldWarnLow(user.AvailableCredits),
		"isBlocked":        user.IsBlocked,
	})
}

func deleteAccountHandler(userService *services.UserService, secureCookies bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, exists := GetUser(c)
		if !exists {
			apperrors.HandleError(c, apperrors.NewAuthenticationError("user not found in context"))
			return
		}

		if err := userService.DeleteAccount(c.Request.Context(), user); err != nil {
			apperrors.HandleError(c, err)
			return
		}

		c.SetSameSite(http.SameSiteStrictMode)
		c.SetCookie(SessionCookieName, "", -1, "/", "", secureCookies, true)
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}
