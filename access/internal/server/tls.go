package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

const (
	devCertName = "dev_cert.pem"
	devKeyName  = "dev_key.pem"
	// 浏览器对自签名 WebTransport 证书（serverCertificateHashes）要求有效期不超过 14 天
	devCertValidity = 10 * 24 * time.Hour
)

func newTLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h3", "webtransport"},
		MinVersion:   tls.VersionTLS13,
	}
}

// loadTLSConfig 加载配置的证书；未配置时使用开发用自签名证书
func loadTLSConfig(certFile, keyFile, devDir string, logger *slog.Logger) (*tls.Config, error) {
	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load tls certificate: %w", err)
		}
		logger.Info("Loaded TLS certificate", "cert_file", certFile, "key_file", keyFile)
		return newTLSConfig(cert), nil
	}

	logger.Warn("No TLS certificate configured, using self-signed certificate")
	return selfSignedTLSConfig(devDir, logger)
}

// selfSignedTLSConfig 生成自签名证书（仅用于开发环境）
// dir 非空时优先复用目录中未过期的证书，生成后写回该目录
func selfSignedTLSConfig(dir string, logger *slog.Logger) (*tls.Config, error) {
	if dir != "" {
		certPath, keyPath := filepath.Join(dir, devCertName), filepath.Join(dir, devKeyName)
		if cert, err := tls.LoadX509KeyPair(certPath, keyPath); err == nil && !expired(cert) {
			logger.Info("Loaded existing dev certificate", "cert", certPath)
			return newTLSConfig(cert), nil
		}
	}

	certPEM, keyPEM, err := generateDevCertificate(time.Now())
	if err != nil {
		return nil, err
	}

	if dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(dir, devCertName), certPEM, 0o644); err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(dir, devKeyName), keyPEM, 0o600); err != nil {
			return nil, err
		}
		logger.Info("Dev certificate saved", "dir", dir)
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return newTLSConfig(cert), nil
}

func generateDevCertificate(now time.Time) (certPEM, keyPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, nil, err
	}

	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"ParkShare Dev"}},
		NotBefore:             now.Add(-time.Hour), // 容忍时钟偏差
		NotAfter:              now.Add(devCertValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, err
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, err
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}

func expired(cert tls.Certificate) bool {
	if len(cert.Certificate) == 0 {
		return true
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return true
	}
	return time.Now().After(leaf.NotAfter)
}
