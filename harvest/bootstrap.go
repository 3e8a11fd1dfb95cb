package harvest

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/harvester/harvest/internal/session"
)

// ErrNoAuthURL is returned by Bootstrap when a login is needed but
// session.auth_url is not configured.
var ErrNoAuthURL = errors.New("harvest: session.auth_url is required to log in")

// Bootstrap performs the interactive login and saves the captured session.
// With force an existing session is discarded first; without it an
// existing session is kept and nothing happens.
func (h *Harvester) Bootstrap(ctx context.Context, force bool) error {
	ss := session.NewStore(h.cfg.Session.File)
	if ss.IsPresent() {
		if !force {
			h.logger.Info("harvest: session already present", "path", ss.Path())
			return nil
		}
		if err := ss.Remove(); err != nil {
			return err
		}
	}

	if h.cfg.Session.AuthURL == "" {
		return ErrNoAuthURL
	}
	st, err := h.browser.Login(ctx, h.cfg.Session.AuthURL, h.cfg.Session.LoginWait)
	if err != nil {
		return err
	}
	if err := ss.Save(st); err != nil {
		return fmt.Errorf("harvest: save session: %w", err)
	}
	h.logger.Info("harvest: session saved", "path", ss.Path(),
		"cookies", len(st.Cookies), "origins", len(st.Origins))
	return nil
}
