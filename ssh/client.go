package ssh

import (
	"errors"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"webssh/common"
)

const dialTimeout = 5 * time.Second

// TestConnection performs a full SSH handshake with the resolved
// credentials and disconnects immediately on success.
func TestConnection(creds *common.ConnectionCredentials) error {
	config := &ssh.ClientConfig{
		User:            creds.Username,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}

	var methods []ssh.AuthMethod
	if creds.PrivateKey != "" {
		var signer ssh.Signer
		var err error
		if creds.KeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(creds.PrivateKey), []byte(creds.KeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey([]byte(creds.PrivateKey))
		}
		if err != nil {
			return fmt.Errorf("failed to parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if creds.Password != "" {
		methods = append(methods, ssh.Password(creds.Password))
	}
	if len(methods) == 0 {
		return errors.New("no credentials available for connection")
	}
	config.Auth = methods

	addr := net.JoinHostPort(creds.Hostname, fmt.Sprint(creds.Port))
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return err
	}
	defer client.Close()

	log.Infof("connection test to %s succeeded (username [%s])", addr, creds.Username)
	return nil
}
