package scraper

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
)

// ErrSignupNotSupported indicates that signup is not supported.
var ErrSignupNotSupported = errors.New("signup not supported")

func (s *Scraper) authFlow() auth.Flow {
	return auth.NewFlow(s, auth.SendCodeOptions{})
}

func (s *Scraper) Code(ctx context.Context, sentCode *tg.AuthSentCode) (string, error) {
	fmt.Print("Enter code: ")

	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(code), nil
}

func (s *Scraper) Phone(ctx context.Context) (string, error) {
	if s.cfg.TGPhone != "" {
		return strings.TrimSpace(s.cfg.TGPhone), nil
	}

	fmt.Print("Enter phone: ")

	phone, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(phone), nil
}

func (s *Scraper) Password(ctx context.Context) (string, error) {
	if s.cfg.TG2FAPassword != "" {
		return s.cfg.TG2FAPassword, nil
	}

	fmt.Print("Enter 2FA password: ")

	password, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(password), nil
}

func (s *Scraper) AcceptTermsOfService(ctx context.Context, tos tg.HelpTermsOfService) error {
	return nil
}

func (s *Scraper) SignUp(ctx context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, ErrSignupNotSupported
}
