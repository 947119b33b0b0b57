// Package ui renders the few server side pages of the portal
package ui

import (
	"html/template"
	"io"
	"strings"
)

// LoginData fills the login page
type LoginData struct {
	CompanyName string
	Next        string
}

var loginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Login - {{.CompanyName}}</title>
    <style>
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: #f3f4f6;
            min-height: 100vh;
            display: flex;
            align-items: center;
            justify-content: center;
        }
        .login-box {
            background: #fff;
            border: 1px solid #e5e7eb;
            border-radius: 12px;
            padding: 40px;
            width: 100%;
            max-width: 400px;
        }
        .logo { text-align: center; margin-bottom: 30px; }
        .logo h1 { font-size: 26px; color: #4f46e5; }
        .form-group { margin-bottom: 20px; }
        .form-label { display: block; font-size: 13px; color: #374151; margin-bottom: 8px; }
        .form-input {
            width: 100%;
            padding: 12px 16px;
            border: 1px solid #d1d5db;
            border-radius: 8px;
            font-size: 14px;
        }
        .form-input:focus { outline: none; border-color: #4f46e5; }
        .btn {
            width: 100%;
            padding: 12px 20px;
            border: none;
            border-radius: 8px;
            font-size: 14px;
            cursor: pointer;
            background: #4f46e5;
            color: #fff;
        }
        .error {
            background: #fef2f2;
            border: 1px solid #fecaca;
            color: #b91c1c;
            padding: 12px;
            border-radius: 8px;
            margin-bottom: 20px;
            display: none;
        }
    </style>
</head>
<body>
    <div class="login-box">
        <div class="logo"><h1>{{.CompanyName}}</h1></div>
        <div class="error" id="error"></div>
        <div class="form-group">
            <label class="form-label" for="username">Username</label>
            <input type="text" class="form-input" id="username" autocomplete="username">
        </div>
        <div class="form-group">
            <label class="form-label" for="password">Password</label>
            <input type="password" class="form-input" id="password" autocomplete="current-password">
        </div>
        <button class="btn" onclick="doLogin()">Sign In</button>
    </div>
    <script>
        const NEXT = {{.Next}};

        async function doLogin() {
            const username = document.getElementById('username').value;
            const password = document.getElementById('password').value;
            const errorEl = document.getElementById('error');
            errorEl.style.display = 'none';
            try {
                const res = await fetch('/auth/login', {
                    method: 'POST',
                    credentials: 'same-origin',
                    headers: {'Content-Type': 'application/json'},
                    body: JSON.stringify({username, password})
                });
                const data = await res.json();
                if (!res.ok) throw new Error(data.message || 'Login failed');
                window.location.href = NEXT;
            } catch (err) {
                errorEl.textContent = err.message;
                errorEl.style.display = 'block';
            }
        }

        document.getElementById('password').addEventListener('keypress', (e) => {
            if (e.key === 'Enter') doLogin();
        });
    </script>
</body>
</html>`))

// SafeNext keeps redirects on this site: only absolute paths are accepted
func SafeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/dashboard"
	}
	return next
}

// RenderLogin writes the login page
func RenderLogin(w io.Writer, data LoginData) error {
	if data.CompanyName == "" {
		data.CompanyName = "Task Portal"
	}
	data.Next = SafeNext(data.Next)
	return loginTemplate.Execute(w, data)
}
