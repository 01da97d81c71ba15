package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// Member-area URLs from the course platform. Overridable via Config for
// staging environments.
const (
	DefaultLoginURL         = "https://academiadoimportador.com.br/cursos/wp-login.php"
	DefaultResetPasswordURL = "https://academiadoimportador.com.br/cursos/wp-login.php?action=lostpassword"
	DefaultInstructionsURL  = "https://academiadoimportador.com.br/login-academia-do-importador/"
)

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string

	LoginURL         string
	ResetPasswordURL string
	InstructionsURL  string
}

// SMTP delivers the welcome and product-available notifications. Sends are
// synchronous; any timeout policy lives in the SMTP dialogue itself.
type SMTP struct {
	cfg Config
}

func New(cfg Config) *SMTP {
	if cfg.LoginURL == "" {
		cfg.LoginURL = DefaultLoginURL
	}
	if cfg.ResetPasswordURL == "" {
		cfg.ResetPasswordURL = DefaultResetPasswordURL
	}
	if cfg.InstructionsURL == "" {
		cfg.InstructionsURL = DefaultInstructionsURL
	}
	return &SMTP{cfg: cfg}
}

// SendWelcome mails the new customer their access details. This is the
// only message carrying a plaintext password; it is sent exactly once, at
// account creation.
func (m *SMTP) SendWelcome(ctx context.Context, email, firstName, password string) error {
	body := WelcomeBody(firstName, email, password, m.cfg.LoginURL)
	msg := buildMessage(m.cfg.From, email, "Bem-vindo ao nosso site!", body, false)
	return m.send(ctx, email, msg)
}

// SendProductAvailable tells an existing customer a product was added to
// their account. HTML, since the body carries links.
func (m *SMTP) SendProductAvailable(ctx context.Context, email, name, productName string) error {
	body := ProductAvailableBody(name, productName, m.cfg.LoginURL, m.cfg.ResetPasswordURL, m.cfg.InstructionsURL)
	msg := buildMessage(m.cfg.From, email, "Seu novo curso foi adicionado à sua conta!", body, true)
	return m.send(ctx, email, msg)
}

func WelcomeBody(firstName, email, password, loginURL string) string {
	return fmt.Sprintf(
		"Olá %s, Aqui estão seus detalhes de acesso:\nE-mail: %s\nSenha: %s\n\nAcesse agora em: %s e comece a aprender!",
		firstName, email, password, loginURL,
	)
}

func ProductAvailableBody(name, productName, loginURL, resetPasswordURL, instructionsURL string) string {
	return fmt.Sprintf(
		"Olá %s,\n\n"+
			"O curso '%s' foi adicionado à sua conta. Você já pode acessá-lo em sua área de membros.\n\n"+
			"Acesse a plataforma: %s\n\n"+
			"Se você não lembra seus dados de acesso, "+
			"<a href='%s'>clique aqui</a> para redefinir a sua senha ou veja as instruções no link a seguir: %s\n\n"+
			"Equipe",
		name, productName, loginURL, resetPasswordURL, instructionsURL,
	)
}

func buildMessage(from, to, subject, body string, html bool) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	if html {
		b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	} else {
		b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

func (m *SMTP) send(ctx context.Context, to string, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addr := m.cfg.Host + ":" + m.cfg.Port
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	return smtp.SendMail(addr, auth, m.cfg.From, []string{to}, msg)
}
