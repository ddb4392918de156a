package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"ecidadania/api/internal/auth"
	"ecidadania/api/internal/authpw"
	"ecidadania/api/internal/images"
	"ecidadania/api/internal/store"
	"ecidadania/api/internal/util"
)

// maxAvatarFetch caps remote avatar downloads.
const maxAvatarFetch = 10 << 20

var avatarFetchClient = &http.Client{Timeout: 15 * time.Second}

type ProfileInput struct {
	Country string `json:"country"`
	Region  string `json:"region"`
	Address string `json:"address"`
	Website string `json:"website"`
	About   string `json:"about"`
}

type CropInput struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// Profile is the account overview: the user's data, their proposals
// with support counts, their spaces and any pending email change.
func (s *Service) Profile(ctx context.Context, sess Session) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}

	proposals, err := s.store.ListProposalsByAuthor(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	spaces, err := s.store.ListSpacesForUser(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}

	pendingEmail := ""
	if validation, err := s.store.GetEmailValidation(ctx, sess.UserID); err == nil {
		pendingEmail = validation.Email
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	avatarKey := ""
	if avatar, err := s.store.GetValidAvatar(ctx, sess.UserID); err == nil {
		avatarKey = avatar.ObjectKey
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	spaceItems := make([]map[string]any, 0, len(spaces))
	for _, space := range spaces {
		spaceItems = append(spaceItems, spacePayload(space))
	}

	payload := userPayload(user)
	payload["proposals"] = proposalPayloads(proposals)
	payload["spaces"] = spaceItems
	payload["pendingEmail"] = pendingEmail
	payload["avatarKey"] = avatarKey
	return payload, nil
}

func (s *Service) UpdateProfile(ctx context.Context, sess Session, input ProfileInput) (map[string]any, error) {
	user, err := s.store.UpdateProfile(ctx, sess.UserID,
		strings.TrimSpace(input.Country),
		strings.TrimSpace(input.Region),
		strings.TrimSpace(input.Address),
		strings.TrimSpace(input.Website),
		input.About,
	)
	if err != nil {
		return nil, err
	}
	return userPayload(user), nil
}

// DeleteProfile blanks the personal fields and removes avatars and
// pending validations. The account itself stays, as do authored
// proposals and posts.
func (s *Service) DeleteProfile(ctx context.Context, sess Session) error {
	objectKeys, err := s.store.ClearProfile(ctx, sess.UserID)
	if err != nil {
		return err
	}
	if s.images != nil {
		for _, key := range objectKeys {
			if err := s.images.Delete(ctx, key); err != nil {
				log.Printf("profile: delete avatar object %s: %v", key, err)
			}
		}
	}
	return nil
}

// UploadAvatar stores the source image scaled down and records it as
// the pending avatar awaiting a crop.
func (s *Service) UploadAvatar(ctx context.Context, sess Session, data []byte) (map[string]any, error) {
	if s.images == nil {
		return nil, errStorageUnavailable
	}
	processed, err := images.ProcessUpload(data)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "BAD_IMAGE", "The uploaded file is not a usable image", nil)
	}

	key := "avatars/" + sess.UserID + "/" + util.NewID("img") + ".jpg"
	if err := s.images.Store(ctx, key, processed, "image/jpeg"); err != nil {
		return nil, err
	}
	avatar, oldKeys, err := s.store.ReplacePendingAvatar(ctx, sess.UserID, key, "image/jpeg")
	if err != nil {
		return nil, err
	}
	for _, oldKey := range oldKeys {
		if oldKey == key {
			continue
		}
		if err := s.images.Delete(ctx, oldKey); err != nil {
			log.Printf("profile: delete superseded pending avatar %s: %v", oldKey, err)
		}
	}
	payload := avatarPayload(avatar)
	payload["cropTarget"] = "/api/profile/avatar/crop"
	return payload, nil
}

// UploadAvatarFromURL fetches a remote image and runs it through the
// same pipeline as a direct upload.
func (s *Service) UploadAvatarFromURL(ctx context.Context, sess Session, rawURL string) (map[string]any, error) {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "url must be http or https", nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid url", nil)
	}
	resp, err := avatarFetchClient.Do(req)
	if err != nil {
		return nil, domainError(http.StatusBadGateway, "FETCH_FAILED", "Could not fetch the remote image", nil)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, domainError(http.StatusBadGateway, "FETCH_FAILED", "Could not fetch the remote image", nil)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAvatarFetch))
	if err != nil {
		return nil, domainError(http.StatusBadGateway, "FETCH_FAILED", "Could not fetch the remote image", nil)
	}
	return s.UploadAvatar(ctx, sess, data)
}

// CropAvatar cuts the chosen box out of the pending image, promotes
// the result to the user's avatar and discards the replaced object.
func (s *Service) CropAvatar(ctx context.Context, sess Session, input CropInput) (map[string]any, error) {
	if s.images == nil {
		return nil, errStorageUnavailable
	}
	pending, err := s.store.GetPendingAvatar(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	data, err := s.images.Load(ctx, pending.ObjectKey)
	if err != nil {
		return nil, err
	}

	cropped, err := images.CropToAvatar(data, input.Left, input.Top, input.Right, input.Bottom)
	if err != nil {
		if errors.Is(err, images.ErrBadCropBox) {
			return nil, domainError(http.StatusUnprocessableEntity, "BAD_CROP_BOX", "The crop box falls outside the image", nil)
		}
		return nil, err
	}
	if err := s.images.Store(ctx, pending.ObjectKey, cropped, "image/jpeg"); err != nil {
		return nil, err
	}

	oldKey, err := s.store.PromoteAvatar(ctx, sess.UserID, pending.ID)
	if err != nil {
		return nil, err
	}
	if oldKey != "" && oldKey != pending.ObjectKey {
		if err := s.images.Delete(ctx, oldKey); err != nil {
			log.Printf("profile: delete replaced avatar %s: %v", oldKey, err)
		}
	}
	return map[string]any{"avatarKey": pending.ObjectKey}, nil
}

// DeleteAvatar removes the current avatar and its stored object.
func (s *Service) DeleteAvatar(ctx context.Context, sess Session) (map[string]any, error) {
	key, err := s.store.DeleteValidAvatar(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if s.images != nil {
		if err := s.images.Delete(ctx, key); err != nil {
			log.Printf("profile: delete avatar object %s: %v", key, err)
		}
	}
	return map[string]any{"success": true}, nil
}

// LoadAvatar streams the stored avatar bytes for a user.
func (s *Service) LoadAvatar(ctx context.Context, userID string) ([]byte, string, error) {
	if s.images == nil {
		return nil, "", errStorageUnavailable
	}
	avatar, err := s.store.GetValidAvatar(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	data, err := s.images.Load(ctx, avatar.ObjectKey)
	if err != nil {
		return nil, "", err
	}
	return data, avatar.ContentType, nil
}

// SearchAvatars proxies the web photo search when the deployment has
// it switched on.
func (s *Service) SearchAvatars(ctx context.Context, query string) (map[string]any, error) {
	if !s.cfg.AvatarWebSearch || s.photos == nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
	results, err := s.photos.Search(ctx, query, 12)
	if err != nil {
		return nil, domainError(http.StatusBadGateway, "UPSTREAM_ERROR", "Photo search is unavailable", nil)
	}
	items := make([]map[string]any, 0, len(results))
	for _, photo := range results {
		items = append(items, map[string]any{
			"title":     photo.Title,
			"thumbnail": photo.Thumbnail,
			"url":       photo.URL,
		})
	}
	return map[string]any{"photos": items}, nil
}

// RequestEmailValidation starts an address change. A new request
// supersedes any pending one, its key included.
func (s *Service) RequestEmailValidation(ctx context.Context, sess Session, newEmail string) (map[string]any, error) {
	newEmail = strings.TrimSpace(newEmail)
	if _, err := mail.ParseAddress(newEmail); err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "A valid email address is required", nil)
	}
	if existing, err := s.store.GetUserByEmail(ctx, newEmail); err == nil && existing.ID != sess.UserID {
		return nil, domainError(http.StatusConflict, "EMAIL_TAKEN", "That address is already in use", nil)
	} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	key, err := authpw.GenerateToken()
	if err != nil {
		return nil, err
	}
	if err := s.store.UpsertEmailValidation(ctx, sess.UserID, newEmail, auth.HashToken(key)); err != nil {
		return nil, err
	}

	payload := map[string]any{"pendingEmail": newEmail}
	if s.SMTPConfigured() {
		s.sendEmailValidation(newEmail, sess.Username, key)
	} else {
		// Dev convenience when no mailer is wired up.
		payload["validationKey"] = key
	}
	return payload, nil
}

// ProcessEmailValidation confirms the pending change with the mailed
// key. A wrong or stale key fails without touching the account.
func (s *Service) ProcessEmailValidation(ctx context.Context, sess Session, key string) (map[string]any, error) {
	email, err := s.store.ConsumeEmailValidation(ctx, sess.UserID, auth.HashToken(key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusUnprocessableEntity, "INVALID_VALIDATION_KEY", "The validation key is wrong or no longer valid", nil)
		}
		return nil, err
	}
	return map[string]any{"email": email, "verified": true}, nil
}

// ResetEmailValidation reissues the key for a pending change. Having
// no pending change is its own failure, distinct from a bad key.
func (s *Service) ResetEmailValidation(ctx context.Context, sess Session) (map[string]any, error) {
	validation, err := s.store.GetEmailValidation(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusNotFound, "NO_PENDING_VALIDATION", "There is no email change awaiting validation", nil)
		}
		return nil, err
	}

	key, err := authpw.GenerateToken()
	if err != nil {
		return nil, err
	}
	if err := s.store.UpsertEmailValidation(ctx, sess.UserID, validation.Email, auth.HashToken(key)); err != nil {
		return nil, err
	}

	payload := map[string]any{"pendingEmail": validation.Email}
	if s.SMTPConfigured() {
		s.sendEmailValidation(validation.Email, sess.Username, key)
	} else {
		payload["validationKey"] = key
	}
	return payload, nil
}

// CancelEmailValidation abandons the pending address change.
func (s *Service) CancelEmailValidation(ctx context.Context, sess Session) error {
	return s.store.DeleteEmailValidation(ctx, sess.UserID)
}

// Geodata resolves coordinates to a country and first-level region.
func (s *Service) Geodata(ctx context.Context, lat, lng string) (map[string]any, error) {
	if s.geo == nil {
		return nil, domainError(http.StatusServiceUnavailable, "GEO_UNAVAILABLE", "Geodata lookup is not configured", nil)
	}
	sub, err := s.geo.Lookup(ctx, lat, lng)
	if err != nil {
		return nil, domainError(http.StatusBadGateway, "UPSTREAM_ERROR", "Geodata lookup failed", nil)
	}
	return map[string]any{
		"success": sub.Success,
		"country": sub.Country,
		"region":  sub.Region,
	}, nil
}

func (s *Service) sendEmailValidation(to, username, key string) {
	if s.email == nil {
		return
	}
	url := s.cfg.PublicBaseURL + "/api/profile/email-validation/confirm?key=" + key
	go func() {
		if err := s.email.SendEmailValidation(to, username, url); err != nil {
			log.Printf("profile: send email validation to %s: %v", to, err)
		}
	}()
}

var errStorageUnavailable = domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Avatar storage is not configured", nil)

func userPayload(u store.User) map[string]any {
	return map[string]any{
		"id":            u.ID,
		"username":      u.Username,
		"email":         u.Email,
		"isAdmin":       u.IsAdmin,
		"emailVerified": u.IsEmailVerified,
		"country":       u.Country,
		"region":        u.Region,
		"address":       u.Address,
		"website":       u.Website,
		"about":         u.About,
		"createdAt":     u.CreatedAt,
	}
}

func avatarPayload(a store.Avatar) map[string]any {
	return map[string]any{
		"id":        a.ID,
		"objectKey": a.ObjectKey,
		"valid":     a.Valid,
		"createdAt": a.CreatedAt,
	}
}
